// Package response holds the ordered JSON object federated results are
// rendered with, so response field order can follow the client's selection
// order instead of map iteration order.
package response

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// Object is a JSON object that marshals its fields in insertion order.
// Plain maps lose the order; anything producing response data builds
// Objects instead.
type Object struct {
	fields []objectField
	index  map[string]int
}

type objectField struct {
	key   string
	value interface{}
}

func NewObject() *Object {
	return &Object{index: map[string]int{}}
}

// Set appends a field, or replaces its value in place when the key is
// already present.
func (o *Object) Set(key string, value interface{}) {
	if at, ok := o.index[key]; ok {
		o.fields[at].value = value
		return
	}
	o.index[key] = len(o.fields)
	o.fields = append(o.fields, objectField{key: key, value: value})
}

func (o *Object) Get(key string) (interface{}, bool) {
	at, ok := o.index[key]
	if !ok {
		return nil, false
	}
	return o.fields[at].value, true
}

func (o *Object) Len() int {
	return len(o.fields)
}

func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
