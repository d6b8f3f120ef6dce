// Package amf0 implements the subset of Action Message Format 0 carried inside RTMP
// command and data messages.
//
// Decoded values map onto Go types as follows:
//
//	number        float64
//	boolean       bool
//	string        string (long strings too)
//	object        *Object
//	null          nil
//	undefined     Undefined
//	ECMA array    *ECMAArray
//	strict array  []interface{}
//	date          time.Time
package amf0

import "github.com/pkg/errors"

const (
	TypeNumber      byte = 0x00
	TypeBoolean     byte = 0x01
	TypeString      byte = 0x02
	TypeObject      byte = 0x03
	TypeMovieClip   byte = 0x04 // reserved, not supported
	TypeNull        byte = 0x05
	TypeUndefined   byte = 0x06
	TypeReference   byte = 0x07
	TypeECMAArray   byte = 0x08
	TypeObjectEnd   byte = 0x09
	TypeStrictArray byte = 0x0A
	TypeDate        byte = 0x0B
	TypeLongString  byte = 0x0C
	TypeUnsupported byte = 0x0D
	TypeRecordSet   byte = 0x0E // reserved, not supported
	TypeXMLDocument byte = 0x0F
	TypeTypedObject byte = 0x10
)

var (
	ErrShortBuffer     = errors.New("amf0: buffer too short")
	ErrUnsupportedType = errors.New("amf0: unsupported type")
	ErrUnexpectedType  = errors.New("amf0: unexpected type")
)

// Undefined is the AMF0 undefined value.
type Undefined struct{}

// Property is a single name/value pair of an Object or an ECMAArray.
type Property struct {
	Key   string
	Value interface{}
}

// Object is an AMF0 anonymous object. Properties keep the order in which they were set
// or decoded, which is the order they are written back on the wire.
type Object struct {
	props []Property
}

// NewObject returns an object holding props in order.
func NewObject(props ...Property) *Object {
	o := &Object{}
	for _, p := range props {
		o.Set(p.Key, p.Value)
	}
	return o
}

// Set replaces the value of key in place, or appends it when the key is new.
func (o *Object) Set(key string, value interface{}) *Object {
	for i := range o.props {
		if o.props[i].Key == key {
			o.props[i].Value = value
			return o
		}
	}
	o.props = append(o.props, Property{Key: key, Value: value})
	return o
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (interface{}, bool) {
	if o == nil {
		return nil, false
	}
	for _, p := range o.props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// GetString returns the value of key when it is a string.
func (o *Object) GetString(key string) (string, bool) {
	v, ok := o.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetNumber returns the value of key when it is a number.
func (o *Object) GetNumber(key string) (float64, bool) {
	v, ok := o.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}

// GetBool returns the value of key when it is a boolean.
func (o *Object) GetBool(key string) (bool, bool) {
	v, ok := o.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Remove deletes key and reports whether it was present.
func (o *Object) Remove(key string) bool {
	for i := range o.props {
		if o.props[i].Key == key {
			o.props = append(o.props[:i], o.props[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of properties.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.props)
}

// Properties returns the properties in wire order. The slice must not be modified.
func (o *Object) Properties() []Property {
	if o == nil {
		return nil
	}
	return o.props
}

// Copy returns a deep copy of the object.
func (o *Object) Copy() *Object {
	if o == nil {
		return nil
	}
	c := &Object{props: make([]Property, len(o.props))}
	for i, p := range o.props {
		c.props[i] = Property{Key: p.Key, Value: copyValue(p.Value)}
	}
	return c
}

// ECMAArray is an associative array. On the wire it is an object preceded by a 4-byte
// associative count.
type ECMAArray struct {
	Object
}

// NewECMAArray returns an ECMA array holding props in order.
func NewECMAArray(props ...Property) *ECMAArray {
	a := &ECMAArray{}
	for _, p := range props {
		a.Set(p.Key, p.Value)
	}
	return a
}

// ToObject converts the array into an anonymous object with the same properties.
func (a *ECMAArray) ToObject() *Object {
	return a.Object.Copy()
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case *Object:
		return t.Copy()
	case *ECMAArray:
		return &ECMAArray{Object: *t.Object.Copy()}
	case []interface{}:
		c := make([]interface{}, len(t))
		for i := range t {
			c[i] = copyValue(t[i])
		}
		return c
	default:
		return v
	}
}
