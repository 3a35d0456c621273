// Package effect holds the machinery shared by every effect builder: dirty
// field tracking, validation details and the serialized command that the
// platform runtime consumes.
package effect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type Method string

const (
	MethodCreate Method = "create"
	MethodUpdate Method = "update"
)

// Effect is a serialized command. Type is "<METHOD>_<EFFECT_TYPE>", Payload a
// JSON document of the form {"data": {...}}.
type Effect struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// Existence reports whether a record with the given id is present. Ids that
// are not well formed simply do not exist.
type Existence interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// TypeName returns the command type for an effect type and method, e.g.
// "CREATE_OBSERVATION".
func TypeName(effectType string, method Method) string {
	return strings.ToUpper(string(method)) + "_" + effectType
}

// New serializes values into an Effect. Callers validate first.
func New(effectType string, method Method, values map[string]interface{}) (*Effect, error) {
	if values == nil {
		values = map[string]interface{}{}
	}
	payload, err := json.Marshal(map[string]interface{}{"data": values})
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", TypeName(effectType, method), err)
	}
	return &Effect{Type: TypeName(effectType, method), Payload: string(payload)}, nil
}

// Data decodes the "data" object of the payload.
func (e *Effect) Data() (map[string]interface{}, error) {
	var doc struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal([]byte(e.Payload), &doc); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return doc.Data, nil
}
