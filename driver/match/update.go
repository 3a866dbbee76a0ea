package match

import (
	"fmt"
	"strings"

	"gopkg.in/mgo.v2/bson"
)

// IsReplacement reports whether update is a whole-document replacement
// rather than an operator document.
func IsReplacement(update bson.M) bool {
	for k := range update {
		if strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// Apply returns doc with update applied. doc is not modified. A replacement
// document keeps the original _id.
func Apply(doc bson.M, update bson.M) (bson.M, error) {
	if IsReplacement(update) {
		out := bson.M{}
		for k, v := range update {
			out[k] = v
		}
		if id, ok := doc["_id"]; ok {
			out["_id"] = id
		}
		return out, nil
	}

	out, err := Clone(doc)
	if err != nil {
		return nil, err
	}

	for op, arg := range update {
		fields, ok := asDoc(arg)
		if !ok {
			return nil, fmt.Errorf("%s expects a document, got %T", op, arg)
		}
		for path, value := range fields {
			if err := applyOne(out, op, path, value); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func applyOne(doc bson.M, op, path string, value any) error {
	switch op {
	case "$set":
		setPath(doc, path, value)
	case "$setOnInsert":
		// only meaningful on upsert, handled by Upsert
	case "$unset":
		unsetPath(doc, path)
	case "$inc":
		current, _ := Lookup(doc, path)
		sum, err := add(current, value)
		if err != nil {
			return fmt.Errorf("$inc %s: %w", path, err)
		}
		setPath(doc, path, sum)
	case "$push":
		current, _ := Lookup(doc, path)
		items, err := arrayAt(current, path)
		if err != nil {
			return err
		}
		setPath(doc, path, append(items, eachValues(value)...))
	case "$addToSet":
		current, _ := Lookup(doc, path)
		items, err := arrayAt(current, path)
		if err != nil {
			return err
		}
		for _, v := range eachValues(value) {
			if !contains(items, v) {
				items = append(items, v)
			}
		}
		setPath(doc, path, items)
	case "$pull":
		current, found := Lookup(doc, path)
		if !found {
			return nil
		}
		items, err := arrayAt(current, path)
		if err != nil {
			return err
		}
		kept := items[:0:0]
		for _, item := range items {
			if !pullMatches(item, value) {
				kept = append(kept, item)
			}
		}
		setPath(doc, path, kept)
	case "$pullAll":
		current, found := Lookup(doc, path)
		if !found {
			return nil
		}
		items, err := arrayAt(current, path)
		if err != nil {
			return err
		}
		drop := toSlice(value)
		kept := items[:0:0]
		for _, item := range items {
			if !contains(drop, item) {
				kept = append(kept, item)
			}
		}
		setPath(doc, path, kept)
	case "$pop":
		current, found := Lookup(doc, path)
		if !found {
			return nil
		}
		items, err := arrayAt(current, path)
		if err != nil || len(items) == 0 {
			return err
		}
		if dir, _ := toFloat(value); dir < 0 {
			items = items[1:]
		} else {
			items = items[:len(items)-1]
		}
		setPath(doc, path, items)
	default:
		return &UnsupportedOperatorError{Operator: op}
	}
	return nil
}

// Upsert builds the document inserted when an upsert matches nothing:
// equality conditions from criteria, then the update.
func Upsert(criteria, update bson.M) (bson.M, error) {
	base := bson.M{}
	for k, v := range criteria {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if _, isOps := operatorDoc(v); isOps {
			continue
		}
		setPath(base, k, v)
	}
	if IsReplacement(update) {
		out := bson.M{}
		for k, v := range update {
			out[k] = v
		}
		if id, ok := base["_id"]; ok {
			if _, has := out["_id"]; !has {
				out["_id"] = id
			}
		}
		return out, nil
	}
	if onInsert, ok := asDoc(update["$setOnInsert"]); ok {
		for k, v := range onInsert {
			setPath(base, k, v)
		}
	}
	return Apply(base, update)
}

func setPath(doc bson.M, path string, value any) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(bson.M)
		if !ok {
			if m, isMap := current[part].(map[string]any); isMap {
				next = bson.M(m)
			} else {
				next = bson.M{}
			}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func unsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(bson.M)
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

func add(current, delta any) (any, error) {
	if current == nil {
		current = 0
	}
	ci, cInt := asInt64(current)
	di, dInt := asInt64(delta)
	if cInt && dInt {
		return int(ci + di), nil
	}
	cf, okc := toFloat(current)
	df, okd := toFloat(delta)
	if !okc || !okd {
		return nil, fmt.Errorf("cannot increment %T by %T", current, delta)
	}
	return cf + df, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func arrayAt(current any, path string) ([]any, error) {
	if current == nil {
		return nil, nil
	}
	if !isArray(current) {
		return nil, fmt.Errorf("field %s is not an array", path)
	}
	src := toSlice(current)
	out := make([]any, len(src))
	copy(out, src)
	return out, nil
}

func eachValues(v any) []any {
	if doc, ok := asDoc(v); ok {
		if each, has := doc["$each"]; has {
			return toSlice(each)
		}
	}
	return []any{v}
}

func contains(items []any, v any) bool {
	for _, item := range items {
		if Equal(item, v) {
			return true
		}
	}
	return false
}

func pullMatches(item, cond any) bool {
	if ops, ok := operatorDoc(cond); ok {
		matched, err := matchOperators(item, true, ops)
		return err == nil && matched
	}
	if crit, ok := asDoc(cond); ok {
		if sub, isDoc := asDoc(item); isDoc {
			matched, err := Matches(sub, crit)
			return err == nil && matched
		}
		return false
	}
	return matchEquality(item, true, cond)
}

// Clone deep copies a document through a bson round trip so that stored
// documents never share memory with caller values.
func Clone(doc bson.M) (bson.M, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out := bson.M{}
	if err := bson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
