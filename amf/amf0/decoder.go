package amf0

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// maxDepth bounds object nesting so hostile payloads cannot exhaust the stack.
const maxDepth = 64

// Decode returns the first value encoded in b.
func Decode(b []byte) (interface{}, error) {
	d := NewDecoder(b)
	return d.ReadValue()
}

// Decoder reads consecutive AMF0 values from a byte slice.
type Decoder struct {
	b   []byte
	off int
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b}
}

// Empty reports whether every byte has been consumed.
func (d *Decoder) Empty() bool {
	return d.off >= len(d.b)
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int {
	return d.off
}

// PeekType returns the marker of the next value without consuming it.
func (d *Decoder) PeekType() (byte, error) {
	if d.Empty() {
		return 0, ErrShortBuffer
	}
	return d.b[d.off], nil
}

// ReadValue decodes the next value of any supported type.
func (d *Decoder) ReadValue() (interface{}, error) {
	return d.readValue(0)
}

// ReadNumber decodes the next value, which must be a number.
func (d *Decoder) ReadNumber() (float64, error) {
	if err := d.expect(TypeNumber); err != nil {
		return 0, err
	}
	return d.readFloat()
}

// ReadBoolean decodes the next value, which must be a boolean.
func (d *Decoder) ReadBoolean() (bool, error) {
	if err := d.expect(TypeBoolean); err != nil {
		return false, err
	}
	p, err := d.next(1)
	if err != nil {
		return false, err
	}
	return p[0] != 0, nil
}

// ReadString decodes the next value, which must be a string or a long string.
func (d *Decoder) ReadString() (string, error) {
	marker, err := d.PeekType()
	if err != nil {
		return "", err
	}
	switch marker {
	case TypeString:
		d.off++
		return d.readUTF8()
	case TypeLongString:
		d.off++
		return d.readLongUTF8()
	default:
		return "", errors.Wrapf(ErrUnexpectedType, "want string, got marker %#x", marker)
	}
}

// ReadNull consumes a null marker.
func (d *Decoder) ReadNull() error {
	return d.expect(TypeNull)
}

// ReadUndefined consumes an undefined marker.
func (d *Decoder) ReadUndefined() error {
	return d.expect(TypeUndefined)
}

// ReadObject decodes the next value, which must be an anonymous object.
func (d *Decoder) ReadObject() (*Object, error) {
	if err := d.expect(TypeObject); err != nil {
		return nil, err
	}
	o := &Object{}
	if err := d.readProperties(o, -1, 1); err != nil {
		return nil, err
	}
	return o, nil
}

func (d *Decoder) readValue(depth int) (interface{}, error) {
	if depth > maxDepth {
		return nil, errors.New("amf0: nesting too deep")
	}
	marker, err := d.PeekType()
	if err != nil {
		return nil, err
	}
	d.off++

	switch marker {
	case TypeNumber:
		return d.readFloat()
	case TypeBoolean:
		p, err := d.next(1)
		if err != nil {
			return nil, err
		}
		return p[0] != 0, nil
	case TypeString:
		return d.readUTF8()
	case TypeLongString:
		return d.readLongUTF8()
	case TypeObject:
		o := &Object{}
		if err := d.readProperties(o, -1, depth+1); err != nil {
			return nil, err
		}
		return o, nil
	case TypeNull:
		return nil, nil
	case TypeUndefined:
		return Undefined{}, nil
	case TypeECMAArray:
		p, err := d.next(4)
		if err != nil {
			return nil, err
		}
		a := &ECMAArray{}
		if err := d.readProperties(&a.Object, int(binary.BigEndian.Uint32(p)), depth+1); err != nil {
			return nil, err
		}
		return a, nil
	case TypeStrictArray:
		p, err := d.next(4)
		if err != nil {
			return nil, err
		}
		count := binary.BigEndian.Uint32(p)
		if int(count) > len(d.b)-d.off {
			return nil, errors.Wrapf(ErrShortBuffer, "strict array of %d elements", count)
		}
		values := make([]interface{}, 0, count)
		for i := uint32(0); i < count; i++ {
			v, err := d.readValue(depth + 1)
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			values = append(values, v)
		}
		return values, nil
	case TypeDate:
		ms, err := d.readFloat()
		if err != nil {
			return nil, err
		}
		// time zone, always 0
		if _, err := d.next(2); err != nil {
			return nil, err
		}
		return time.Unix(0, int64(ms)*int64(time.Millisecond)), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "marker %#x", marker)
	}
}

// readProperties reads name/value pairs until the object end marker. ECMA arrays pass
// their associative count; encoders are known to omit the end marker after the last
// counted property, so running out of bytes at that point is accepted.
func (d *Decoder) readProperties(o *Object, count int, depth int) error {
	for n := 0; ; n++ {
		if count >= 0 && n >= count && d.Empty() {
			return nil
		}
		if d.isObjectEnd() {
			d.off += 3
			return nil
		}
		key, err := d.readUTF8()
		if err != nil {
			return errors.Wrap(err, "object key")
		}
		v, err := d.readValue(depth)
		if err != nil {
			return errors.Wrapf(err, "property %q", key)
		}
		o.Set(key, v)
	}
}

func (d *Decoder) isObjectEnd() bool {
	return len(d.b)-d.off >= 3 && d.b[d.off] == 0x00 && d.b[d.off+1] == 0x00 && d.b[d.off+2] == TypeObjectEnd
}

func (d *Decoder) expect(marker byte) error {
	got, err := d.PeekType()
	if err != nil {
		return err
	}
	if got != marker {
		return errors.Wrapf(ErrUnexpectedType, "want marker %#x, got %#x", marker, got)
	}
	d.off++
	return nil
}

func (d *Decoder) next(n int) ([]byte, error) {
	if len(d.b)-d.off < n {
		return nil, errors.Wrapf(ErrShortBuffer, "need %d bytes, have %d", n, len(d.b)-d.off)
	}
	p := d.b[d.off : d.off+n]
	d.off += n
	return p, nil
}

func (d *Decoder) readFloat() (float64, error) {
	p, err := d.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(p)), nil
}

func (d *Decoder) readUTF8() (string, error) {
	p, err := d.next(2)
	if err != nil {
		return "", err
	}
	s, err := d.next(int(binary.BigEndian.Uint16(p)))
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func (d *Decoder) readLongUTF8() (string, error) {
	p, err := d.next(4)
	if err != nil {
		return "", err
	}
	s, err := d.next(int(binary.BigEndian.Uint32(p)))
	if err != nil {
		return "", err
	}
	return string(s), nil
}
