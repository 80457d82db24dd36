package cascade

import (
	"strings"
	"testing"
)

func TestValidateContentBounds(t *testing.T) {
	if _, err := ValidateContent("   "); err == nil {
		t.Fatal("expected error for whitespace-only content")
	}
	if _, err := ValidateContent(strings.Repeat("a", MaxContentLength+1)); err == nil {
		t.Fatal("expected error for over-length content")
	}
	trimmed, err := ValidateContent("  hello  ")
	if err != nil || trimmed != "hello" {
		t.Fatalf("expected trimmed content, got %q, %v", trimmed, err)
	}
}

func TestValidateLimitDefaultsAndBounds(t *testing.T) {
	limit, err := ValidateLimit(0)
	if err != nil || limit != DefaultLimit {
		t.Fatalf("expected default limit, got %d, %v", limit, err)
	}
	if _, err := ValidateLimit(MaxLimit + 1); err == nil {
		t.Fatal("expected error over max limit")
	}
	if _, err := ValidateLimit(-1); err == nil {
		t.Fatal("expected error for negative limit")
	}
}

func TestValidateLayerRejectsUnknown(t *testing.T) {
	if _, err := ValidateLayer("not-a-real-layer"); err == nil {
		t.Fatal("expected error for unknown layer")
	}
	l, err := ValidateLayer("FACTS")
	if err != nil || l != LayerSemantic {
		t.Fatalf("expected semantic via alias, got %v, %v", l, err)
	}
}

func TestValidateMetadataRelocatesUnknownKeys(t *testing.T) {
	m, err := ValidateMetadata(map[string]interface{}{
		"tags":          []interface{}{"a", "b"},
		"unknown_field": "value",
	})
	if err != nil {
		t.Fatalf("validate metadata: %v", err)
	}
	if len(m.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(m.Tags))
	}
	if m.Custom["unknown_field"] != "value" {
		t.Fatalf("expected unknown key relocated to custom, got %+v", m.Custom)
	}
}

func TestValidateMetadataRejectsTooManyTags(t *testing.T) {
	tags := make([]interface{}, MaxTagCount+1)
	for i := range tags {
		tags[i] = "t"
	}
	if _, err := ValidateMetadata(map[string]interface{}{"tags": tags}); err == nil {
		t.Fatal("expected error for too many tags")
	}
}

func TestValidateUnitIntervalBounds(t *testing.T) {
	if err := ValidateUnitInterval("importance", 1.5); err == nil {
		t.Fatal("expected error above 1")
	}
	if err := ValidateUnitInterval("importance", -0.1); err == nil {
		t.Fatal("expected error below 0")
	}
	if err := ValidateUnitInterval("importance", 0.7); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
