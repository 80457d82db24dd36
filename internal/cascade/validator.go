package cascade

import (
	"encoding/json"
	"strings"
)

// Bounds mirrors the §4.7 table; exposed so callers (e.g. cmd/ flags) can
// report the active limits without duplicating the constants.
const (
	MinContentLength = 1
	MaxContentLength = 100_000
	MinQueryLength   = 1
	MaxQueryLength   = 1_000
	MaxContextLength = 10_000
	MaxMetaStringLen = 5_000
	MaxMetaBytes     = 50_000
	MaxTagCount      = 50
	MaxTagLength     = 100
	MaxRelatedIDs    = 100
	MinLimit         = 1
	MaxLimit         = 1_000
	DefaultLimit     = 10
	MaxTimestamp     = 4_102_444_800 // year 2100
)

// ValidateContent enforces the content-length bound (after trim) from §4.7.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < MinContentLength {
		return "", NewError(CodeInvalidContent, "content must be non-empty")
	}
	if len(trimmed) > MaxContentLength {
		return "", NewError(CodeInvalidContent, "content exceeds %d characters", MaxContentLength)
	}
	return trimmed, nil
}

// ValidateQuery enforces the query-length bound from §4.7.
func ValidateQuery(query string) (string, error) {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < MinQueryLength {
		return "", NewError(CodeValidation, "query must be non-empty")
	}
	if len(trimmed) > MaxQueryLength {
		return "", NewError(CodeValidation, "query exceeds %d characters", MaxQueryLength)
	}
	return trimmed, nil
}

// ValidateContext enforces the context-length bound from §4.7. Context may
// be empty.
func ValidateContext(context string) (string, error) {
	if len(context) > MaxContextLength {
		return "", NewError(CodeValidation, "context exceeds %d characters", MaxContextLength)
	}
	return context, nil
}

// ValidateUnitInterval enforces "real in [0,1]" for importance and
// emotional_intensity.
func ValidateUnitInterval(field string, v float64) error {
	if v < 0 || v > 1 {
		return NewError(CodeValidation, "%s must be in [0,1]", field)
	}
	return nil
}

// ValidateTimestamp enforces the §4.7 timestamp bound.
func ValidateTimestamp(field string, v float64) error {
	if v < 0 || v > MaxTimestamp {
		return NewError(CodeValidation, "%s must be in [0, %d]", field, int64(MaxTimestamp))
	}
	return nil
}

// ValidateLimit clamps and validates the recall/query limit, applying the
// default when unset (limit == 0 is the caller's "not specified" sentinel).
func ValidateLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultLimit, nil
	}
	if limit < MinLimit || limit > MaxLimit {
		return 0, NewError(CodeValidation, "limit must be in [%d, %d]", MinLimit, MaxLimit)
	}
	return limit, nil
}

// ValidateLayer case-folds and alias-resolves a layer name, rejecting
// anything outside the fixed six (§4.7).
func ValidateLayer(name string) (Layer, error) {
	l, ok := ResolveLayer(name)
	if !ok {
		return "", NewError(CodeInvalidLayer, "unrecognized layer %q", name)
	}
	return l, nil
}

// ValidateMetadata enforces tag count/length, related-id count, arbitrary
// string-value length, and serialized-size bounds, then relocates any
// unrecognized key under Custom (§4.7, §9).
func ValidateMetadata(raw map[string]interface{}) (Metadata, error) {
	m := NewMetadataFromMap(raw)

	if len(m.Tags) > MaxTagCount {
		return Metadata{}, NewError(CodeValidation, "tag count exceeds %d", MaxTagCount)
	}
	for _, tag := range m.Tags {
		if len(tag) > MaxTagLength {
			return Metadata{}, NewError(CodeValidation, "tag exceeds %d characters", MaxTagLength)
		}
	}
	if len(m.RelatedIDs) > MaxRelatedIDs {
		return Metadata{}, NewError(CodeValidation, "related_ids count exceeds %d", MaxRelatedIDs)
	}
	if len(m.Source) > MaxMetaStringLen {
		return Metadata{}, NewError(CodeValidation, "metadata string value exceeds %d characters", MaxMetaStringLen)
	}
	for k, v := range m.Custom {
		if s, ok := v.(string); ok && len(s) > MaxMetaStringLen {
			return Metadata{}, NewError(CodeValidation, "metadata value %q exceeds %d characters", k, MaxMetaStringLen)
		}
	}

	encoded, err := json.Marshal(m)
	if err != nil {
		return Metadata{}, WrapError(CodeInternalError, err, "marshal metadata for size check")
	}
	if len(encoded) > MaxMetaBytes {
		return Metadata{}, NewError(CodeValidation, "serialized metadata exceeds %d bytes", MaxMetaBytes)
	}
	return m, nil
}

// ValidateFilterCrossFields applies the §4.7 min<=max cross-field rule to a
// Filters value (duplicated here at the validator layer; the compiler also
// enforces it defensively).
func ValidateFilterCrossFields(f Filters) error {
	return validateFilterRanges(f)
}
