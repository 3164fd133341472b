package gemini

import (
	"context"
	"testing"

	"google.golang.org/genai"

	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
)

// TestNew_MissingAPIKey ensures the constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_DefaultModel checks that the default model is applied.
func TestNew_DefaultModel(t *testing.T) {
	p, err := New(context.Background(), "test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Model() != DefaultModel {
		t.Errorf("expected model %q, got %q", DefaultModel, p.Model())
	}
}

// TestNew_WithModel checks that WithModel overrides the default.
func TestNew_WithModel(t *testing.T) {
	p, err := New(context.Background(), "test-key", WithModel("gemini-1.5-flash"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Model() != "gemini-1.5-flash" {
		t.Errorf("expected model gemini-1.5-flash, got %q", p.Model())
	}
}

// TestConvertSchema_Object checks conversion of a nested object schema.
func TestConvertSchema_Object(t *testing.T) {
	in := &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"call_type": {
				Type: "string",
				Enum: []string{"Booking", "Informational", "Others"},
			},
			"summary": {Type: "string"},
			"items": {
				Type:  "array",
				Items: &llm.Schema{Type: "integer"},
			},
		},
		Required: []string{"call_type", "summary"},
	}

	out, err := convertSchema(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Type != genai.TypeObject {
		t.Errorf("expected OBJECT type, got %v", out.Type)
	}
	if len(out.Required) != 2 {
		t.Errorf("expected 2 required fields, got %d", len(out.Required))
	}

	ct, ok := out.Properties["call_type"]
	if !ok {
		t.Fatal("expected call_type property")
	}
	if ct.Type != genai.TypeString {
		t.Errorf("call_type: expected STRING type, got %v", ct.Type)
	}
	if len(ct.Enum) != 3 {
		t.Errorf("call_type: expected 3 enum values, got %d", len(ct.Enum))
	}

	arr, ok := out.Properties["items"]
	if !ok {
		t.Fatal("expected items property")
	}
	if arr.Type != genai.TypeArray {
		t.Errorf("items: expected ARRAY type, got %v", arr.Type)
	}
	if arr.Items == nil || arr.Items.Type != genai.TypeInteger {
		t.Error("items: expected INTEGER element schema")
	}
}

// TestConvertSchema_UnknownType checks that unsupported types are rejected.
func TestConvertSchema_UnknownType(t *testing.T) {
	_, err := convertSchema(&llm.Schema{Type: "tuple"})
	if err == nil {
		t.Fatal("expected error for unsupported schema type")
	}
}

// TestConvertSchema_Nil checks that a nil schema converts to nil.
func TestConvertSchema_Nil(t *testing.T) {
	out, err := convertSchema(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil, got %+v", out)
	}
}

// TestGenerate_EmptyPrompt checks that an empty prompt is rejected before any
// network call.
func TestGenerate_EmptyPrompt(t *testing.T) {
	p, err := New(context.Background(), "test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Generate(context.Background(), llm.Request{}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}
