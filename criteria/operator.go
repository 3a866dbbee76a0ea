package criteria

import "fmt"

// Operator is a comparison operator attached to a field reference. The set
// is closed and each operator maps to exactly one storage token.
type Operator string

const (
	Eq        Operator = ""
	Gt        Operator = "gt"
	Lt        Operator = "lt"
	Gte       Operator = "gte"
	Lte       Operator = "lte"
	Ne        Operator = "ne"
	In        Operator = "in"
	Nin       Operator = "nin"
	All       Operator = "all"
	Near      Operator = "near"
	Exists    Operator = "exists"
	Size      Operator = "size"
	ElemMatch Operator = "elem_match"
)

var tokens = map[Operator]string{
	Gt:        "$gt",
	Lt:        "$lt",
	Gte:       "$gte",
	Lte:       "$lte",
	Ne:        "$ne",
	In:        "$in",
	Nin:       "$nin",
	All:       "$all",
	Near:      "$near",
	Exists:    "$exists",
	Size:      "$size",
	ElemMatch: "$elemMatch",
}

// Token returns the storage-level operator, e.g. "$gt". Eq has no token.
func (o Operator) Token() string {
	return tokens[o]
}

// ParseOperator resolves an operator name ("gt") or token ("$gt").
func ParseOperator(s string) (Operator, error) {
	if s == "" || s == "eq" {
		return Eq, nil
	}
	if _, ok := tokens[Operator(s)]; ok {
		return Operator(s), nil
	}
	for op, tok := range tokens {
		if tok == s {
			return op, nil
		}
	}
	return Eq, fmt.Errorf("unknown operator %q", s)
}

// Logical operators whose values are lists of nested criteria.
const (
	OrKey  = "$or"
	AndKey = "$and"
	NorKey = "$nor"
)

// IsLogical reports whether key composes nested criteria.
func IsLogical(key string) bool {
	return key == OrKey || key == AndKey || key == NorKey
}
