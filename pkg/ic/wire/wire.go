// Package wire implements the flat-tuple codec the RPC dispatcher (C3)
// uses on the byte level: every request/response struct is encoded as
// its fixed-width integer/bool fields, in field-declaration order,
// followed by its NUL-terminated string fields, also in
// field-declaration order. Strings are not interleaved positionally
// with integers on the wire; grouping them after the fixed-width
// block is the one normalization needed to make "exact field order"
// well-defined for a reflection-driven Go encoder; it is an
// implementation detail, not a schema version, and every struct in
// pkg/ic/rpc is written with this layout in mind.
//
// Types are introspected once via reflection and the resulting plan is
// cached, so repeated dispatch of the same RPC type does no further
// reflection work.
package wire

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"
)

// tagSkip excludes a field from the wire encoding entirely.
const tagSkip = "-"

type fieldPlan struct {
	index   int
	kind    reflect.Kind
	bitSize int // 0 for bool and string
}

type typePlan struct {
	fixed   []fieldPlan
	strings []fieldPlan
}

var plans sync.Map // reflect.Type -> *typePlan

func planFor(t reflect.Type) (*typePlan, error) {
	if cached, ok := plans.Load(t); ok {
		return cached.(*typePlan), nil
	}

	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("wire: %s is not a struct", t)
	}

	p := &typePlan{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Tag.Get("wire") == tagSkip {
			continue
		}

		kind := f.Type.Kind()
		switch kind {
		case reflect.Bool,
			reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int,
			reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
			p.fixed = append(p.fixed, fieldPlan{index: i, kind: kind, bitSize: f.Type.Bits()})
		case reflect.String:
			p.strings = append(p.strings, fieldPlan{index: i, kind: kind})
		default:
			return nil, fmt.Errorf("wire: field %s.%s has unsupported kind %s", t, f.Name, kind)
		}
	}

	actual, _ := plans.LoadOrStore(t, p)
	return actual.(*typePlan), nil
}

// Encode renders v (a struct or pointer to one) into the flat-tuple
// wire format.
func Encode(v interface{}) ([]byte, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("wire: cannot encode nil pointer")
		}
		rv = rv.Elem()
	}

	p, err := planFor(rv.Type())
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 64)
	for _, fp := range p.fixed {
		buf = appendFixed(buf, rv.Field(fp.index), fp)
	}
	for _, fp := range p.strings {
		buf = append(buf, []byte(rv.Field(fp.index).String())...)
		buf = append(buf, 0)
	}
	return buf, nil
}

func appendFixed(buf []byte, fv reflect.Value, fp fieldPlan) []byte {
	if fp.kind == reflect.Bool {
		if fv.Bool() {
			return append(buf, 1)
		}
		return append(buf, 0)
	}

	var scratch [8]byte
	switch fp.kind {
	case reflect.Int8, reflect.Uint8:
		return append(buf, byte(unsignedOf(fv, fp.kind)))
	case reflect.Int16, reflect.Uint16:
		binary.BigEndian.PutUint16(scratch[:2], uint16(unsignedOf(fv, fp.kind)))
		return append(buf, scratch[:2]...)
	case reflect.Int32, reflect.Uint32:
		binary.BigEndian.PutUint32(scratch[:4], uint32(unsignedOf(fv, fp.kind)))
		return append(buf, scratch[:4]...)
	case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint:
		binary.BigEndian.PutUint64(scratch[:8], unsignedOf(fv, fp.kind))
		return append(buf, scratch[:8]...)
	default:
		panic(fmt.Sprintf("wire: unreachable kind %s", fp.kind))
	}
}

// unsignedOf returns the field's bit pattern as a uint64, preserving
// signed values' two's-complement representation.
func unsignedOf(fv reflect.Value, kind reflect.Kind) uint64 {
	switch kind {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return uint64(fv.Int())
	default:
		return fv.Uint()
	}
}

// Decode fills the struct v points to from the flat-tuple wire
// encoding in data.
func Decode(data []byte, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("wire: Decode requires a non-nil pointer")
	}
	rv = rv.Elem()

	p, err := planFor(rv.Type())
	if err != nil {
		return err
	}

	offset := 0
	for _, fp := range p.fixed {
		n, err := readFixed(data[offset:], rv.Field(fp.index), fp)
		if err != nil {
			return err
		}
		offset += n
	}
	for _, fp := range p.strings {
		nul := indexByte(data[offset:], 0)
		if nul < 0 {
			return fmt.Errorf("wire: unterminated string field at offset %d", offset)
		}
		rv.Field(fp.index).SetString(string(data[offset : offset+nul]))
		offset += nul + 1
	}
	return nil
}

func readFixed(data []byte, fv reflect.Value, fp fieldPlan) (int, error) {
	if fp.kind == reflect.Bool {
		if len(data) < 1 {
			return 0, fmt.Errorf("wire: truncated bool field")
		}
		fv.SetBool(data[0] != 0)
		return 1, nil
	}

	size := fp.bitSize / 8
	if size == 0 {
		size = 8 // plain int/uint: encode as 64-bit on the wire
	}
	if len(data) < size {
		return 0, fmt.Errorf("wire: truncated fixed field: need %d bytes, have %d", size, len(data))
	}

	var bits uint64
	switch size {
	case 1:
		bits = uint64(data[0])
	case 2:
		bits = uint64(binary.BigEndian.Uint16(data[:2]))
	case 4:
		bits = uint64(binary.BigEndian.Uint32(data[:4]))
	case 8:
		bits = binary.BigEndian.Uint64(data[:8])
	default:
		return 0, fmt.Errorf("wire: unsupported field width %d", size)
	}

	switch fp.kind {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		fv.SetInt(signExtend(bits, size))
	default:
		fv.SetUint(bits)
	}
	return size, nil
}

// signExtend interprets the low size*8 bits of bits as a two's
// complement integer of that width and sign-extends it to int64.
func signExtend(bits uint64, size int) int64 {
	shift := uint(64 - size*8)
	return int64(bits<<shift) >> shift
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
