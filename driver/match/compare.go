package match

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"time"

	"gopkg.in/mgo.v2/bson"
)

// Type ranks used when comparing values of different kinds, lowest first.
const (
	rankNull = iota
	rankNumber
	rankString
	rankDocument
	rankArray
	rankBinary
	rankObjectID
	rankBool
	rankTime
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case string:
		return rankString
	case bson.M, map[string]any:
		return rankDocument
	case bson.Binary, []byte:
		return rankBinary
	case bson.ObjectId:
		return rankObjectID
	case bool:
		return rankBool
	case time.Time:
		return rankTime
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	if isArray(v) {
		return rankArray
	}
	if _, ok := asDoc(v); ok {
		return rankDocument
	}
	return rankOther
}

// Compare orders two values. Values of different kinds order by kind;
// numbers compare numerically regardless of their Go type.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}

	switch ra {
	case rankNull:
		return 0
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankObjectID:
		return strings.Compare(string(a.(bson.ObjectId)), string(b.(bson.ObjectId)))
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		}
		return 1
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	case rankBinary:
		return bytes.Compare(binaryData(a), binaryData(b))
	case rankArray:
		as, bs := toSlice(a), toSlice(b)
		for i := 0; i < len(as) && i < len(bs); i++ {
			if c := Compare(as[i], bs[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(as), len(bs))
	}

	if Equal(a, b) {
		return 0
	}
	return strings.Compare(reflect.TypeOf(a).String(), reflect.TypeOf(b).String())
}

// Equal reports deep equality with numeric normalization and time
// comparison by instant.
func Equal(a, b any) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return false
	}

	switch ra {
	case rankNull:
		return true
	case rankNumber, rankTime:
		return Compare(a, b) == 0
	case rankBinary:
		ka, kb := binaryKind(a), binaryKind(b)
		return ka == kb && bytes.Equal(binaryData(a), binaryData(b))
	case rankDocument:
		da, _ := asDoc(a)
		db, _ := asDoc(b)
		if len(da) != len(db) {
			return false
		}
		for k, va := range da {
			vb, ok := db[k]
			if !ok || !Equal(va, vb) {
				return false
			}
		}
		return true
	case rankArray:
		as, bs := toSlice(a), toSlice(b)
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func binaryData(v any) []byte {
	switch b := v.(type) {
	case bson.Binary:
		return b.Data
	case []byte:
		return b
	}
	return nil
}

func binaryKind(v any) byte {
	if b, ok := v.(bson.Binary); ok {
		return b.Kind
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Point reads a coordinate pair from a two element array or a document with
// two numeric values.
func Point(v any) ([2]float64, bool) {
	var p [2]float64
	if isArray(v) {
		items := toSlice(v)
		if len(items) < 2 {
			return p, false
		}
		x, okx := toFloat(items[0])
		y, oky := toFloat(items[1])
		return [2]float64{x, y}, okx && oky
	}
	if doc, ok := asDoc(v); ok {
		for _, pair := range [][2]string{{"x", "y"}, {"lng", "lat"}, {"lon", "lat"}} {
			x, okx := toFloat(doc[pair[0]])
			y, oky := toFloat(doc[pair[1]])
			if okx && oky {
				return [2]float64{x, y}, true
			}
		}
	}
	return p, false
}

// Distance is the planar distance between two points.
func Distance(a, b [2]float64) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}
