// Package schema validates raw records against a declared output
// contract: a structural pass with JSON Schema followed by field
// coercion and alias normalization.
//
// Validation is pure and deterministic: the same raw record and contract
// always produce the same outcome, and no external state is consulted.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tributary-data/tributary/pkg/record"
)

// FieldType enumerates the normalized value types of the output contract.
type FieldType string

// Supported field types.
const (
	TypeString    FieldType = "string"
	TypeInt64     FieldType = "int64"
	TypeFloat64   FieldType = "float64"
	TypeBool      FieldType = "bool"
	TypeTimestamp FieldType = "timestamp"
)

// Sentinel errors.
var (
	ErrEmptyContract    = errors.New("contract declares no fields")
	ErrUnknownFieldType = errors.New("unknown field type")
)

// Field declares one output-contract field.
type Field struct {
	// Name is the normalized output field name (e.g. "user_login").
	Name string

	// Type the value is coerced to.
	Type FieldType

	// Required rejects records where the field is absent or null.
	Required bool

	// Alias is the raw-record key the value is read from when it
	// differs from Name (e.g. "user.login").
	Alias string
}

// RawKey returns the key under which the field appears in raw records.
func (f Field) RawKey() string {
	if f.Alias != "" {
		return f.Alias
	}

	return f.Name
}

// Contract is an ordered set of declared fields. Order is preserved into
// the columnar output.
type Contract struct {
	Fields []Field
}

// ParseFieldType converts a catalog type string into a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch FieldType(s) {
	case TypeString, TypeInt64, TypeFloat64, TypeBool, TypeTimestamp:
		return FieldType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFieldType, s)
	}
}

// Validator checks raw records against one contract.
type Validator struct {
	contract   Contract
	structural *gojsonschema.Schema
}

// New compiles a validator for the given contract.
func New(contract Contract) (*Validator, error) {
	if len(contract.Fields) == 0 {
		return nil, ErrEmptyContract
	}

	structural, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(structuralSchema(contract)))
	if err != nil {
		return nil, fmt.Errorf("compile structural schema: %w", err)
	}

	return &Validator{contract: contract, structural: structural}, nil
}

// Contract returns the contract the validator enforces.
func (v *Validator) Contract() Contract {
	return v.contract
}

// Validate checks one raw record. The record is cleaned (strings
// trimmed, empty strings nulled), structurally validated, and coerced
// into the contract's normalized field names and types.
func (v *Validator) Validate(raw record.Raw) record.Outcome {
	cleaned := Clean(raw)

	result, err := v.structural.Validate(gojsonschema.NewGoLoader(map[string]any(cleaned)))
	if err != nil {
		return record.Reject(raw, fmt.Sprintf("structural validation: %v", err))
	}

	if !result.Valid() {
		return record.Reject(raw, structuralReason(result))
	}

	validated := make(record.Validated, len(v.contract.Fields))

	for _, field := range v.contract.Fields {
		value, ok := cleaned[field.RawKey()]
		if !ok || value == nil {
			if field.Required {
				return record.Reject(raw, fmt.Sprintf("missing required field %q", field.RawKey()))
			}

			validated[field.Name] = nil

			continue
		}

		coerced, coerceErr := coerce(value, field.Type)
		if coerceErr != nil {
			return record.Reject(raw, fmt.Sprintf("field %q: %v", field.RawKey(), coerceErr))
		}

		validated[field.Name] = coerced
	}

	return record.Accept(validated)
}

// Clean applies skeptical defaults to a raw record: strings are trimmed
// and empty strings become nulls. The input is not mutated.
func Clean(raw record.Raw) record.Raw {
	out := make(record.Raw, len(raw))

	for k, v := range raw {
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				out[k] = nil

				continue
			}

			out[k] = s

			continue
		}

		out[k] = v
	}

	return out
}

// structuralSchema derives a JSON Schema document from the contract.
// Only presence and null-ness are enforced structurally; value types are
// the coercion pass's concern since raw representations differ per
// source (CSV delivers numbers as strings).
func structuralSchema(contract Contract) map[string]any {
	required := make([]string, 0, len(contract.Fields))

	for _, field := range contract.Fields {
		if field.Required {
			required = append(required, field.RawKey())
		}
	}

	schema := map[string]any{
		"type": "object",
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func structuralReason(result *gojsonschema.Result) string {
	reasons := make([]string, 0, len(result.Errors()))

	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}

	return strings.Join(reasons, "; ")
}

func coerce(value any, target FieldType) (any, error) {
	switch target {
	case TypeString:
		return coerceString(value)
	case TypeInt64:
		return coerceInt64(value)
	case TypeFloat64:
		return coerceFloat64(value)
	case TypeBool:
		return coerceBool(value)
	case TypeTimestamp:
		return coerceTimestamp(value)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFieldType, target)
	}
}

func coerceString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to string", value)
	}
}

func coerceInt64(value any) (any, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("number %g is not an integer", v)
		}

		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to int64", v)
		}

		return n, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to int64", value)
	}
}

func coerceFloat64(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to float64", v)
		}

		return f, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to float64", value)
	}
}

func coerceBool(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to bool", v)
		}

		return b, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to bool", value)
	}
}

func coerceTimestamp(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to timestamp", v)
		}

		return ts.UTC(), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to timestamp", value)
	}
}
