package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaValidation indicates an oracle response that failed the expected
// schema check. Recovered locally via corrective-prompt retry, then tier
// fallback; never propagated past the cascade boundary.
var ErrSchemaValidation = errors.New("oracle response failed schema validation")

// FieldKind is the declared type of a schema field.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldEnum   FieldKind = "enum"
)

// FieldSpec declares one expected field of an oracle response.
type FieldSpec struct {
	Name     string
	Kind     FieldKind
	Required bool
	Enum     []string // Allowed values when Kind == FieldEnum
	Min, Max *float64 // Bounds when Kind == FieldNumber
}

// Schema is the structured contract an oracle response must satisfy.
type Schema struct {
	Name   string
	Fields []FieldSpec
}

// ExtractionSchema builds the standard per-fact extraction contract: the
// extracted value, the oracle's own confidence (required, never assumed),
// and an optional supporting excerpt.
func ExtractionSchema(factID string, allowedValues []string) Schema {
	valueField := FieldSpec{Name: "value", Kind: FieldString, Required: true}
	if len(allowedValues) > 0 {
		valueField.Kind = FieldEnum
		valueField.Enum = allowedValues
	}
	return Schema{
		Name: factID,
		Fields: []FieldSpec{
			valueField,
			{Name: "confidence", Kind: FieldEnum, Required: true,
				Enum: []string{"insufficient", "low", "medium", "high"}},
			{Name: "excerpt", Kind: FieldString, Required: false},
		},
	}
}

// PromptBlock renders the schema as response instructions for the oracle.
func (s Schema) PromptBlock() string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object containing exactly these fields:\n")
	for _, f := range s.Fields {
		b.WriteString("- \"")
		b.WriteString(f.Name)
		b.WriteString("\": ")
		switch f.Kind {
		case FieldEnum:
			b.WriteString("one of ")
			for i, v := range f.Enum {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%q", v)
			}
		case FieldNumber:
			b.WriteString("a number")
			if f.Min != nil || f.Max != nil {
				b.WriteString(" in range [")
				if f.Min != nil {
					fmt.Fprintf(&b, "%g", *f.Min)
				}
				b.WriteString(", ")
				if f.Max != nil {
					fmt.Fprintf(&b, "%g", *f.Max)
				}
				b.WriteString("]")
			}
		default:
			b.WriteString("a string")
		}
		if !f.Required {
			b.WriteString(" (optional)")
		}
		b.WriteString("\n")
	}
	b.WriteString("Do not include any other fields or commentary outside the JSON object.\n")
	return b.String()
}

// Validate checks a parsed response against the schema. All problems are
// collected so the corrective prompt can name every violation at once.
func (s Schema) Validate(obj map[string]interface{}) error {
	var problems []string
	for _, f := range s.Fields {
		raw, present := obj[f.Name]
		if !present || raw == nil {
			if f.Required {
				problems = append(problems, fmt.Sprintf("missing required field %q", f.Name))
			}
			continue
		}
		switch f.Kind {
		case FieldString, FieldEnum:
			str, ok := raw.(string)
			if !ok {
				problems = append(problems, fmt.Sprintf("field %q must be a string", f.Name))
				continue
			}
			if f.Required && strings.TrimSpace(str) == "" {
				problems = append(problems, fmt.Sprintf("field %q must not be empty", f.Name))
				continue
			}
			if f.Kind == FieldEnum && !enumContains(f.Enum, str) {
				problems = append(problems, fmt.Sprintf("field %q value %q is not one of %v", f.Name, str, f.Enum))
			}
		case FieldNumber:
			num, ok := raw.(float64) // encoding/json decodes all numbers as float64
			if !ok {
				problems = append(problems, fmt.Sprintf("field %q must be a number", f.Name))
				continue
			}
			if f.Min != nil && num < *f.Min {
				problems = append(problems, fmt.Sprintf("field %q value %g is below minimum %g", f.Name, num, *f.Min))
			}
			if f.Max != nil && num > *f.Max {
				problems = append(problems, fmt.Sprintf("field %q value %g exceeds maximum %g", f.Name, num, *f.Max))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSchemaValidation, strings.Join(problems, "; "))
	}
	return nil
}

func enumContains(enum []string, v string) bool {
	for _, e := range enum {
		if strings.EqualFold(e, v) {
			return true
		}
	}
	return false
}

// ParseResponse extracts the first JSON object in raw that satisfies the
// schema. Oracles routinely wrap their JSON in prose or code fences, so every
// top-level object candidate is tried in order. The last validation error is
// returned when no candidate passes, so the caller can build a corrective
// prompt from it.
func (s Schema) ParseResponse(raw string) (map[string]interface{}, error) {
	candidates := findJSONCandidates(raw)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no JSON object found in response", ErrSchemaValidation)
	}

	var lastErr error
	for _, cand := range candidates {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(cand), &obj); err != nil {
			lastErr = fmt.Errorf("%w: malformed JSON object: %v", ErrSchemaValidation, err)
			continue
		}
		if err := s.Validate(obj); err != nil {
			lastErr = err
			continue
		}
		return obj, nil
	}
	return nil, lastErr
}
