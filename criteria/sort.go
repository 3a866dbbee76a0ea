package criteria

import (
	"fmt"
	"strings"
)

// Sort directions.
const (
	Ascending  = 1
	Descending = -1
)

// SortField is a field name paired with a direction.
type SortField struct {
	Field     string
	Direction int
}

// Reversed returns the field with the opposite direction.
func (s SortField) Reversed() SortField {
	s.Direction = -s.Direction
	return s
}

// ParseSort accepts a key ("age"), a key with a direction token
// ("age desc"), a prefixed key ("-age"), comma separated lists of those,
// SortField values, Refs and slices of any of them.
func ParseSort(specs ...any) ([]SortField, error) {
	var out []SortField
	for _, spec := range specs {
		switch s := spec.(type) {
		case SortField:
			out = append(out, normalizeDirection(s))
		case []SortField:
			for _, f := range s {
				out = append(out, normalizeDirection(f))
			}
		case Ref:
			out = append(out, s.Asc())
		case string:
			fields, err := parseSortString(s)
			if err != nil {
				return nil, err
			}
			out = append(out, fields...)
		case []string:
			for _, str := range s {
				fields, err := parseSortString(str)
				if err != nil {
					return nil, err
				}
				out = append(out, fields...)
			}
		default:
			return nil, fmt.Errorf("unsupported sort spec %T", spec)
		}
	}
	return out, nil
}

func normalizeDirection(s SortField) SortField {
	if s.Direction >= 0 {
		s.Direction = Ascending
	} else {
		s.Direction = Descending
	}
	return s
}

func parseSortString(s string) ([]SortField, error) {
	var out []SortField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		tokens := strings.Fields(part)
		field := tokens[0]
		dir := Ascending

		if strings.HasPrefix(field, "-") {
			field = field[1:]
			dir = Descending
		}

		if len(tokens) > 2 {
			return nil, fmt.Errorf("invalid sort spec %q", part)
		}
		if len(tokens) == 2 {
			switch strings.ToLower(tokens[1]) {
			case "asc", "ascending", "1":
				dir = Ascending
			case "desc", "descending", "-1":
				dir = Descending
			default:
				return nil, fmt.Errorf("invalid sort direction %q", tokens[1])
			}
		}

		out = append(out, SortField{Field: field, Direction: dir})
	}
	return out, nil
}
