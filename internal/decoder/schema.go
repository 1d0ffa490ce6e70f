package decoder

import (
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FieldKind is the normalized representation of a decoded value.
type FieldKind string

const (
	KindAddress FieldKind = "address"
	KindInteger FieldKind = "integer"
	KindAmount  FieldKind = "amount"
	KindBool    FieldKind = "bool"
	KindString  FieldKind = "string"
	KindBytes   FieldKind = "bytes"
	KindList    FieldKind = "list"
	KindTuple   FieldKind = "tuple"
)

var (
	integerRe = regexp.MustCompile(`^-?[0-9]+$`)
	hexRe     = regexp.MustCompile(`^0x[0-9a-fA-F]*$`)
)

// FieldSchema describes one field of an event.
type FieldSchema struct {
	Name     string    `json:"name"`
	ABIType  string    `json:"abiType"`
	Kind     FieldKind `json:"kind"`
	Indexed  bool      `json:"indexed"`
	Decimals int32     `json:"decimals,omitempty"`
}

// EventSchema describes the fields every document of an event type carries.
type EventSchema struct {
	Name   string        `json:"name"`
	ID     common.Hash   `json:"id"`
	Fields []FieldSchema `json:"fields"`
}

// SchemaError reports a decoded value that does not fit its event schema.
type SchemaError struct {
	Event  string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("event %s field %s: %s", e.Event, e.Field, e.Reason)
}

// newEventSchema derives the schema of event. amounts maps field names to decimals.
func newEventSchema(event abi.Event, amounts map[string]int32) (*EventSchema, error) {
	schema := &EventSchema{
		Name:   event.Name,
		ID:     event.ID,
		Fields: make([]FieldSchema, 0, len(event.Inputs)),
	}

	for _, input := range event.Inputs {
		field := FieldSchema{
			Name:    input.Name,
			ABIType: input.Type.String(),
			Kind:    kindOf(input.Type, input.Indexed),
			Indexed: input.Indexed,
		}

		if decimals, ok := amounts[input.Name]; ok {
			if field.Kind != KindInteger {
				return nil, fmt.Errorf("amount field %s of %s must be an integer, got %s",
					input.Name, event.Name, field.ABIType)
			}
			field.Kind = KindAmount
			field.Decimals = decimals
		}

		schema.Fields = append(schema.Fields, field)
	}

	for name := range amounts {
		if schema.Field(name) == nil {
			return nil, fmt.Errorf("amount field %s is not an input of %s", name, event.Name)
		}
	}

	return schema, nil
}

// Field returns the schema of the named field or nil.
func (s *EventSchema) Field(name string) *FieldSchema {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// Validate checks that fields holds exactly the schema fields with normalized values.
func (s *EventSchema) Validate(fields map[string]any) error {
	if len(fields) != len(s.Fields) {
		return &SchemaError{Event: s.Name, Field: "*", Reason: fmt.Sprintf("expected %d fields, got %d", len(s.Fields), len(fields))}
	}

	for _, f := range s.Fields {
		v, ok := fields[f.Name]
		if !ok {
			return &SchemaError{Event: s.Name, Field: f.Name, Reason: "missing"}
		}
		if reason := checkKind(f.Kind, v); reason != "" {
			return &SchemaError{Event: s.Name, Field: f.Name, Reason: reason}
		}
	}

	return nil
}

func kindOf(t abi.Type, indexed bool) FieldKind {
	switch t.T {
	case abi.AddressTy:
		return KindAddress
	case abi.IntTy, abi.UintTy:
		return KindInteger
	case abi.BoolTy:
		return KindBool
	case abi.StringTy:
		if indexed {
			// indexed dynamic values are only available as their hash
			return KindBytes
		}
		return KindString
	case abi.SliceTy, abi.ArrayTy:
		if indexed {
			return KindBytes
		}
		return KindList
	case abi.TupleTy:
		if indexed {
			return KindBytes
		}
		return KindTuple
	default:
		return KindBytes
	}
}

func checkKind(kind FieldKind, v any) string {
	switch kind {
	case KindAddress:
		s, ok := v.(string)
		if !ok || !common.IsHexAddress(s) {
			return fmt.Sprintf("expected address, got %v", v)
		}
	case KindInteger:
		s, ok := v.(string)
		if !ok || !integerRe.MatchString(s) {
			return fmt.Sprintf("expected decimal integer, got %v", v)
		}
	case KindAmount:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected decimal amount, got %v", v)
		}
		if _, err := decimal.NewFromString(s); err != nil {
			return fmt.Sprintf("expected decimal amount, got %q", s)
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected bool, got %T", v)
		}
	case KindString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("expected string, got %T", v)
		}
	case KindBytes:
		s, ok := v.(string)
		if !ok || !hexRe.MatchString(s) {
			return fmt.Sprintf("expected hex bytes, got %v", v)
		}
	case KindList:
		if _, ok := v.([]any); !ok {
			return fmt.Sprintf("expected list, got %T", v)
		}
	case KindTuple:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Sprintf("expected tuple, got %T", v)
		}
	default:
		return fmt.Sprintf("unknown kind %s", kind)
	}

	return ""
}
