// Package match evaluates storage-level criteria, updates, sorts and
// projections against raw documents. The bundled drivers share it.
package match

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"

	"gopkg.in/mgo.v2/bson"
)

// UnsupportedOperatorError is returned for operators the matcher does not
// implement.
type UnsupportedOperatorError struct {
	Operator string
}

// Error implements the error interface.
func (e *UnsupportedOperatorError) Error() string {
	return "unsupported operator " + e.Operator
}

// Matches reports whether doc satisfies criteria.
func Matches(doc bson.M, criteria bson.M) (bool, error) {
	for key, cond := range criteria {
		ok, err := matchKey(doc, key, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchKey(doc bson.M, key string, cond any) (bool, error) {
	switch key {
	case "$or", "$and", "$nor":
		branches, err := asDocs(cond)
		if err != nil {
			return false, err
		}
		return matchLogical(doc, key, branches)
	}
	if strings.HasPrefix(key, "$") {
		return false, &UnsupportedOperatorError{Operator: key}
	}

	value, found := Lookup(doc, key)

	if ops, ok := operatorDoc(cond); ok {
		return matchOperators(value, found, ops)
	}
	return matchEquality(value, found, cond), nil
}

func matchLogical(doc bson.M, op string, branches []bson.M) (bool, error) {
	for _, b := range branches {
		ok, err := Matches(doc, b)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$or" && ok:
			return true, nil
		case op == "$and" && !ok:
			return false, nil
		case op == "$nor" && ok:
			return false, nil
		}
	}
	return op != "$or", nil
}

func matchOperators(value any, found bool, ops bson.M) (bool, error) {
	for op, arg := range ops {
		var ok bool
		var err error

		switch op {
		case "$gt", "$gte", "$lt", "$lte":
			ok = anyElement(value, func(v any) bool { return compareOp(op, v, arg) })
		case "$ne":
			ok = !matchEquality(value, found, arg)
		case "$in":
			ok = matchIn(value, found, arg)
		case "$nin":
			ok = !matchIn(value, found, arg)
		case "$all":
			ok = matchAll(value, arg)
		case "$exists":
			ok = found == truthy(arg)
		case "$size":
			n, isNum := toFloat(arg)
			ok = isNum && isArray(value) && float64(reflect.ValueOf(value).Len()) == n
		case "$elemMatch":
			ok, err = matchElem(value, arg)
		case "$near":
			ok = matchNear(value, arg, ops["$maxDistance"])
		case "$maxDistance", "$options":
			ok = true
		case "$regex":
			pattern, _ := arg.(string)
			options, _ := ops["$options"].(string)
			ok = matchEquality(value, found, bson.RegEx{Pattern: pattern, Options: options})
		case "$not":
			var inner bool
			if sub, isOps := operatorDoc(arg); isOps {
				inner, err = matchOperators(value, found, sub)
			} else {
				inner = matchEquality(value, found, arg)
			}
			ok = !inner
		case "$mod":
			ok = matchMod(value, arg)
		default:
			return false, &UnsupportedOperatorError{Operator: op}
		}

		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchEquality(value any, found bool, cond any) bool {
	if cond == nil {
		return !found || value == nil
	}
	if re, ok := asRegexp(cond); ok {
		return anyElement(value, func(v any) bool {
			s, isStr := v.(string)
			return isStr && re.MatchString(s)
		})
	}
	if !found {
		return false
	}
	if Equal(value, cond) {
		return true
	}
	if isArray(value) && !isArray(cond) {
		return anyElement(value, func(v any) bool { return Equal(v, cond) })
	}
	return false
}

func matchIn(value any, found bool, arg any) bool {
	for _, candidate := range toSlice(arg) {
		if matchEquality(value, found, candidate) {
			return true
		}
	}
	return false
}

func matchAll(value any, arg any) bool {
	if !isArray(value) {
		return false
	}
	for _, want := range toSlice(arg) {
		if !anyElement(value, func(v any) bool { return Equal(v, want) }) {
			return false
		}
	}
	return true
}

func matchElem(value any, arg any) (bool, error) {
	if !isArray(value) {
		return false, nil
	}
	for _, elem := range toSlice(value) {
		if sub, ok := elem.(bson.M); ok {
			crit, isDoc := asDoc(arg)
			if !isDoc {
				continue
			}
			if _, isOps := operatorDoc(arg); !isOps {
				ok, err := Matches(sub, crit)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
				continue
			}
		}
		if ops, isOps := operatorDoc(arg); isOps {
			ok, err := matchOperators(elem, true, ops)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func matchNear(value any, arg any, maxDistance any) bool {
	p, ok := Point(value)
	if !ok {
		return false
	}
	target, ok := Point(arg)
	if !ok {
		return false
	}
	limit, hasLimit := toFloat(maxDistance)
	return !hasLimit || Distance(p, target) <= limit
}

func matchMod(value any, arg any) bool {
	args := toSlice(arg)
	if len(args) != 2 {
		return false
	}
	div, ok1 := toFloat(args[0])
	rem, ok2 := toFloat(args[1])
	v, ok3 := toFloat(value)
	if !ok1 || !ok2 || !ok3 || div == 0 {
		return false
	}
	return math.Mod(v, div) == rem
}

func compareOp(op string, value, arg any) bool {
	if rank(value) != rank(arg) {
		return false
	}
	c := Compare(value, arg)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	default:
		return c <= 0
	}
}

// Lookup resolves a dotted path. Numeric segments index into arrays.
func Lookup(doc bson.M, path string) (any, bool) {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		switch c := current.(type) {
		case bson.M:
			v, ok := c[part]
			if !ok {
				return nil, false
			}
			current = v
		case map[string]any:
			v, ok := c[part]
			if !ok {
				return nil, false
			}
			current = v
		default:
			if !isArray(current) {
				return nil, false
			}
			items := toSlice(current)
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err == nil && idx >= 0 && idx < len(items) {
				current = items[idx]
				continue
			}
			var collected []any
			for _, item := range items {
				if sub, ok := item.(bson.M); ok {
					if v, ok := Lookup(sub, part); ok {
						collected = append(collected, v)
					}
				}
			}
			if len(collected) == 0 {
				return nil, false
			}
			current = collected
		}
	}
	return current, true
}

func operatorDoc(v any) (bson.M, bool) {
	doc, ok := asDoc(v)
	if !ok || len(doc) == 0 {
		return nil, false
	}
	for k := range doc {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return doc, true
}

func asDoc(v any) (bson.M, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case map[string]any:
		return bson.M(d), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		out := bson.M{}
		for _, k := range rv.MapKeys() {
			out[k.String()] = rv.MapIndex(k).Interface()
		}
		return out, true
	}
	return nil, false
}

func asDocs(v any) ([]bson.M, error) {
	var out []bson.M
	for _, item := range toSlice(v) {
		d, ok := asDoc(item)
		if !ok {
			return nil, fmt.Errorf("logical operator expects documents, got %T", item)
		}
		out = append(out, d)
	}
	return out, nil
}

func asRegexp(v any) (*regexp.Regexp, bool) {
	switch r := v.(type) {
	case *regexp.Regexp:
		return r, true
	case bson.RegEx:
		flags := ""
		for _, o := range r.Options {
			switch o {
			case 'i', 'm', 's':
				flags += string(o)
			}
		}
		pattern := r.Pattern
		if flags != "" {
			pattern = "(?" + flags + ")" + pattern
		}
		re, err := regexp.Compile(pattern)
		return re, err == nil
	}
	return nil, false
}

func anyElement(value any, fn func(any) bool) bool {
	if isArray(value) {
		for _, v := range toSlice(value) {
			if fn(v) {
				return true
			}
		}
		return false
	}
	return fn(value)
}

func isArray(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func toSlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}
