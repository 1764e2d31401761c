package partition

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

type (
	// Tuple is the evaluated partition key of one row. Two rows belong to the
	// same partition iff their tuples are equal.
	Tuple []any

	hashKey struct {
		hi, lo uint64
	}
)

// IDAll is the partition id of unpartitioned tables and projection parts.
const IDAll = "all"

// ID encodes the tuple into the deterministic partition id used inside part
// names. Empty tuples map to "all", a single integer value is used verbatim,
// everything else gets the hex of the tuple's 128-bit hash.
func (t Tuple) ID() string {
	if len(t) == 0 {
		return IDAll
	}
	if len(t) == 1 {
		if i, ok := t[0].(int64); ok {
			return fmt.Sprintf("%d", i)
		}
	}
	var buf []byte
	for _, v := range t {
		buf = appendValue(buf, v)
	}
	hi, lo := murmur3.Sum128(buf)
	return fmt.Sprintf("%016x%016x", hi, lo)
}

func appendValue(buf []byte, v any) []byte {
	var tmp [8]byte
	switch tv := v.(type) {
	case int64:
		buf = append(buf, 'i')
		binary.LittleEndian.PutUint64(tmp[:], uint64(tv))
		buf = append(buf, tmp[:]...)
	case float64:
		buf = append(buf, 'f')
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(tv))
		buf = append(buf, tmp[:]...)
	case string:
		buf = append(buf, 's')
		binary.LittleEndian.PutUint64(tmp[:], uint64(len(tv)))
		buf = append(buf, tmp[:]...)
		buf = append(buf, tv...)
	case nil:
		buf = append(buf, 'n')
	default:
		buf = append(buf, 'x')
		buf = append(buf, fmt.Sprint(tv)...)
	}
	return buf
}

// Equal reports whether two tuples hold the same values.
func (t Tuple) Equal(other Tuple) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}
