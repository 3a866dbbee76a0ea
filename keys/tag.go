package keys

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// TagName is the struct tag read by ParseTag.
const TagName = "odm"

// FieldSpec is the parsed form of an odm struct tag.
type FieldSpec struct {
	Name    string
	Type    Type
	HasType bool
	Options Options
	Skip    bool
}

// ParseTag parses tags of the form
//
//	odm:"first_name,alias=f,required,index,unique,default=x,type=objectid"
//
// Validation shortcuts: format=<regexp>, in=a|b|c, length=min|max, email.
func ParseTag(tag string) (FieldSpec, error) {
	var spec FieldSpec
	if tag == "-" {
		spec.Skip = true
		return spec, nil
	}

	parts := strings.Split(tag, ",")
	spec.Name = strings.TrimSpace(parts[0])

	for _, raw := range parts[1:] {
		part := strings.TrimSpace(raw)
		if part == "" {
			continue
		}

		name, value, _ := strings.Cut(part, "=")
		switch name {
		case "alias":
			spec.Options.Alias = value
		case "abbr":
			spec.Options.Abbr = value
		case "required":
			spec.Options.Required = true
		case "index":
			spec.Options.Index = true
		case "unique":
			spec.Options.Unique = true
		case "default":
			spec.Options.Default = value
		case "type":
			t, err := ParseType(value)
			if err != nil {
				return spec, err
			}
			spec.Type = t
			spec.HasType = true
		case "format":
			re, err := regexp.Compile(value)
			if err != nil {
				return spec, fmt.Errorf("format option: %w", err)
			}
			spec.Options.Validators = append(spec.Options.Validators, validation.Match(re))
		case "in":
			var allowed []any
			for _, v := range strings.Split(value, "|") {
				allowed = append(allowed, v)
			}
			spec.Options.Validators = append(spec.Options.Validators, validation.In(allowed...))
		case "length":
			lo, hi, _ := strings.Cut(value, "|")
			min, err := strconv.Atoi(lo)
			if err != nil {
				return spec, fmt.Errorf("length option: %w", err)
			}
			max := 0
			if hi != "" {
				if max, err = strconv.Atoi(hi); err != nil {
					return spec, fmt.Errorf("length option: %w", err)
				}
			}
			spec.Options.Validators = append(spec.Options.Validators, validation.Length(min, max))
		case "email":
			spec.Options.Validators = append(spec.Options.Validators, is.Email)
		default:
			return spec, fmt.Errorf("unknown tag option %q", name)
		}
	}

	return spec, nil
}
