package packet

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Serializer encodes whole packet envelopes.
type Serializer interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type JSONSerializer struct{}

func (JSONSerializer) Name() string                       { return "json" }
func (JSONSerializer) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// JSONIterSerializer produces the same bytes as JSONSerializer using json-iterator.
type JSONIterSerializer struct {
	api jsoniter.API
}

func NewJSONIterSerializer() *JSONIterSerializer {
	return &JSONIterSerializer{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

func (s *JSONIterSerializer) Name() string                       { return "jsoniter" }
func (s *JSONIterSerializer) Marshal(v any) ([]byte, error)      { return s.api.Marshal(v) }
func (s *JSONIterSerializer) Unmarshal(data []byte, v any) error { return s.api.Unmarshal(data, v) }

// NewSerializer returns the serializer registered under name; "" selects json.
func NewSerializer(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSONSerializer{}, nil
	case "jsoniter":
		return NewJSONIterSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown packet serializer %q", name)
	}
}
