package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/mgo.v2/bson"
	"gopkg.in/yaml.v3"
)

// parseCriteria decodes an extended JSON document. An empty argument
// matches everything.
func parseCriteria(arg string) (bson.M, error) {
	crit := bson.M{}
	if strings.TrimSpace(arg) == "" {
		return crit, nil
	}
	if err := bson.UnmarshalJSON([]byte(arg), &crit); err != nil {
		return nil, fmt.Errorf("invalid criteria %q: %w", arg, err)
	}
	return crit, nil
}

// write renders v, which must be extended JSON compatible, in format.
func write(w io.Writer, format string, v any) error {
	raw, err := bson.MarshalJSON(v)
	if err != nil {
		return err
	}

	switch format {
	case "yaml":
		var plain any
		if err := json.Unmarshal(raw, &plain); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plain); err != nil {
			return err
		}
		return enc.Close()
	default:
		var out bytes.Buffer
		if err := json.Indent(&out, raw, "", "  "); err != nil {
			return err
		}
		out.WriteByte('\n')
		_, err := out.WriteTo(w)
		return err
	}
}
