package amf0

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Encode returns the AMF0 representation of v.
func Encode(v interface{}) ([]byte, error) {
	return Append(make([]byte, 0, Size(v)), v)
}

// EncodeAll encodes values back to back, as command messages carry them.
func EncodeAll(values ...interface{}) ([]byte, error) {
	size := 0
	for _, v := range values {
		size += Size(v)
	}
	buf := make([]byte, 0, size)
	var err error
	for _, v := range values {
		if buf, err = Append(buf, v); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Append appends the AMF0 representation of v to dst.
func Append(dst []byte, v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case float64:
		return appendNumber(dst, t), nil
	case float32:
		return appendNumber(dst, float64(t)), nil
	case int:
		return appendNumber(dst, float64(t)), nil
	case int32:
		return appendNumber(dst, float64(t)), nil
	case int64:
		return appendNumber(dst, float64(t)), nil
	case uint32:
		return appendNumber(dst, float64(t)), nil
	case uint8:
		return appendNumber(dst, float64(t)), nil
	case bool:
		return appendBoolean(dst, t), nil
	case string:
		return appendString(dst, t), nil
	case *Object:
		return appendObject(dst, t)
	case *ECMAArray:
		return appendECMAArray(dst, t)
	case []interface{}:
		return appendStrictArray(dst, t)
	case nil:
		return append(dst, TypeNull), nil
	case Undefined:
		return append(dst, TypeUndefined), nil
	case time.Time:
		return appendDate(dst, t), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "cannot encode %T", v)
	}
}

func appendNumber(dst []byte, number float64) []byte {
	var buf [9]byte
	buf[0] = TypeNumber
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(number))
	return append(dst, buf[:]...)
}

func appendBoolean(dst []byte, b bool) []byte {
	if b {
		return append(dst, TypeBoolean, 1)
	}
	return append(dst, TypeBoolean, 0)
}

func appendString(dst []byte, s string) []byte {
	if len(s) < math.MaxUint16 {
		dst = append(dst, TypeString, byte(len(s)>>8), byte(len(s)))
		return append(dst, s...)
	}
	// Strings that need more than 65535 bytes are long strings with a 4-byte length.
	var hdr [5]byte
	hdr[0] = TypeLongString
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(s)))
	dst = append(dst, hdr[:]...)
	return append(dst, s...)
}

// appendKey writes an object key: a UTF-8 string without the type marker.
func appendKey(dst []byte, key string) []byte {
	dst = append(dst, byte(len(key)>>8), byte(len(key)))
	return append(dst, key...)
}

func appendProperties(dst []byte, props []Property) ([]byte, error) {
	var err error
	for _, p := range props {
		dst = appendKey(dst, p.Key)
		if dst, err = Append(dst, p.Value); err != nil {
			return nil, errors.Wrapf(err, "property %q", p.Key)
		}
	}
	return append(dst, 0x00, 0x00, TypeObjectEnd), nil
}

func appendObject(dst []byte, o *Object) ([]byte, error) {
	dst = append(dst, TypeObject)
	return appendProperties(dst, o.Properties())
}

func appendECMAArray(dst []byte, a *ECMAArray) ([]byte, error) {
	var hdr [5]byte
	hdr[0] = TypeECMAArray
	binary.BigEndian.PutUint32(hdr[1:], uint32(a.Len()))
	dst = append(dst, hdr[:]...)
	return appendProperties(dst, a.Properties())
}

func appendStrictArray(dst []byte, values []interface{}) ([]byte, error) {
	var hdr [5]byte
	hdr[0] = TypeStrictArray
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(values)))
	dst = append(dst, hdr[:]...)
	var err error
	for i, v := range values {
		if dst, err = Append(dst, v); err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
	}
	return dst, nil
}

func appendDate(dst []byte, t time.Time) []byte {
	var buf [11]byte
	buf[0] = TypeDate
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(float64(t.UnixNano()/int64(time.Millisecond))))
	// The last 2 bytes are the time zone, which must stay 0.
	return append(dst, buf[:]...)
}

// Size returns the number of bytes v occupies in its AMF0 representation, or 0 when v
// cannot be encoded.
func Size(v interface{}) int {
	switch t := v.(type) {
	case float64, float32, int, int32, int64, uint32, uint8:
		return 9
	case bool:
		return 2
	case string:
		if len(t) < math.MaxUint16 {
			return 3 + len(t)
		}
		return 5 + len(t)
	case *Object:
		return 1 + propertiesSize(t.Properties())
	case *ECMAArray:
		return 5 + propertiesSize(t.Properties())
	case []interface{}:
		size := 5
		for _, e := range t {
			size += Size(e)
		}
		return size
	case nil, Undefined:
		return 1
	case time.Time:
		return 11
	default:
		return 0
	}
}

func propertiesSize(props []Property) int {
	size := 3 // object end marker
	for _, p := range props {
		size += 2 + len(p.Key) + Size(p.Value)
	}
	return size
}
