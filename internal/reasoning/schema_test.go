package reasoning

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractionSchemaValidResponse(t *testing.T) {
	s := ExtractionSchema("er_status", []string{"positive", "negative"})

	obj, err := s.ParseResponse(`{"value": "positive", "confidence": "high", "excerpt": "ER: positive (95%)"}`)
	if err != nil {
		t.Fatalf("valid response rejected: %v", err)
	}
	if obj["value"] != "positive" {
		t.Errorf("value = %v", obj["value"])
	}
}

func TestResponseWrappedInProse(t *testing.T) {
	s := ExtractionSchema("histology", nil)
	raw := "Sure, here is the extraction:\n```json\n{\"value\": \"adenocarcinoma\", \"confidence\": \"medium\"}\n```\nLet me know if you need anything else."

	obj, err := s.ParseResponse(raw)
	if err != nil {
		t.Fatalf("fenced JSON should be found: %v", err)
	}
	if obj["value"] != "adenocarcinoma" {
		t.Errorf("value = %v", obj["value"])
	}
}

func TestMissingConfidenceRejected(t *testing.T) {
	s := ExtractionSchema("histology", nil)

	_, err := s.ParseResponse(`{"value": "adenocarcinoma"}`)
	if !errors.Is(err, ErrSchemaValidation) {
		t.Fatalf("expected ErrSchemaValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "confidence") {
		t.Errorf("error should name the missing field: %v", err)
	}
}

func TestEnumViolationRejected(t *testing.T) {
	s := ExtractionSchema("er_status", []string{"positive", "negative"})

	_, err := s.ParseResponse(`{"value": "maybe", "confidence": "high"}`)
	if !errors.Is(err, ErrSchemaValidation) {
		t.Fatalf("expected ErrSchemaValidation, got %v", err)
	}
}

func TestAllProblemsCollected(t *testing.T) {
	s := ExtractionSchema("er_status", []string{"positive", "negative"})

	err := s.Validate(map[string]interface{}{"value": 12.0})
	if err == nil {
		t.Fatal("expected validation failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "value") || !strings.Contains(msg, "confidence") {
		t.Errorf("corrective prompt needs every violation named, got: %v", msg)
	}
}

func TestNoJSONInResponse(t *testing.T) {
	s := ExtractionSchema("histology", nil)

	_, err := s.ParseResponse("The document does not mention histology at all.")
	if !errors.Is(err, ErrSchemaValidation) {
		t.Fatalf("expected ErrSchemaValidation, got %v", err)
	}
}

func TestLaterCandidateWins(t *testing.T) {
	s := ExtractionSchema("histology", nil)
	raw := `{"note": "thinking"} {"value": "adenocarcinoma", "confidence": "low"}`

	obj, err := s.ParseResponse(raw)
	if err != nil {
		t.Fatalf("second candidate should validate: %v", err)
	}
	if obj["confidence"] != "low" {
		t.Errorf("confidence = %v", obj["confidence"])
	}
}

func TestFindJSONCandidates(t *testing.T) {
	raw := `prefix {"a": {"nested": "}"}} middle {"b": 2} suffix`
	cands := findJSONCandidates(raw)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %v", len(cands), cands)
	}
	if !strings.Contains(cands[0], "nested") {
		t.Errorf("nested braces inside strings must not split the object: %q", cands[0])
	}
}

func TestPromptBlockNamesEnumValues(t *testing.T) {
	s := ExtractionSchema("er_status", []string{"positive", "negative"})
	block := s.PromptBlock()
	for _, want := range []string{"value", "confidence", "insufficient", "positive", "negative"} {
		if !strings.Contains(block, want) {
			t.Errorf("prompt block missing %q:\n%s", want, block)
		}
	}
}
