// Package cascade implements the dual-write storage engine, temporal-decay
// scheduler, and content-based router at the core of cascade-memory: six
// parallel layer stores kept coherent between a durable path and an
// optional volatile cache path, swept periodically for time-decayed
// importance.
package cascade

import (
	"encoding/json"
	"fmt"
)

// Layer names the six cognitive partitions. Every layer shares an identical
// schema in a distinct file; there is no cross-layer foreign key.
type Layer string

const (
	LayerEpisodic  Layer = "episodic"
	LayerSemantic  Layer = "semantic"
	LayerProcedural Layer = "procedural"
	LayerMeta      Layer = "meta"
	LayerIdentity  Layer = "identity"
	LayerWorking   Layer = "working"
)

// Layers is the fixed, ordered set of valid layers. Order matters: the
// router's tie-break rule picks the first layer in this order among equal
// top scores.
var Layers = []Layer{LayerEpisodic, LayerSemantic, LayerProcedural, LayerMeta, LayerIdentity, LayerWorking}

// layerAliases resolves informal names to canonical layers (§4.4).
var layerAliases = map[string]Layer{
	"core": LayerIdentity, "self": LayerIdentity, "values": LayerIdentity,
	"temp": LayerWorking, "scratch": LayerWorking, "wip": LayerWorking,
	"facts": LayerSemantic, "knowledge": LayerSemantic,
	"skills": LayerProcedural, "howto": LayerProcedural,
	"insights": LayerMeta, "reasoning": LayerMeta,
	"events": LayerEpisodic, "conversations": LayerEpisodic,
}

// ResolveLayer case-folds and alias-resolves a caller-supplied layer name.
// Returns ok=false if name does not resolve to any of the fixed six layers.
func ResolveLayer(name string) (Layer, bool) {
	if name == "" {
		return "", false
	}
	folded := foldLayerName(name)
	for _, l := range Layers {
		if string(l) == folded {
			return l, true
		}
	}
	if l, ok := layerAliases[folded]; ok {
		return l, true
	}
	return "", false
}

func foldLayerName(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// FileName returns the on-disk file name for this layer under a root
// directory, per §6 "Persisted layout": <layer>_memory.db.
func (l Layer) FileName() string {
	return fmt.Sprintf("%s_memory.db", string(l))
}

// Record is the single persisted entity (§3).
type Record struct {
	ID                   int64
	Layer                Layer
	Timestamp            float64 // seconds since epoch, fractional; creation time, immutable
	Content              string
	Context              string
	Importance           float64
	EmotionalIntensity   float64
	Metadata             Metadata
	LastAccessed         *float64 // nullable
	EffectiveImportance  *float64 // nullable
	AccessCount          int64
}

// Metadata is the recognized-key envelope (§4.7, §9): a fixed whitelist of
// keys plus a "custom" sub-map for anything the caller sent that the
// whitelist does not recognize. This keeps the serialized size bounded and
// forward-compatible the way codeNERD's prompt-atom polymorphism columns
// stay additive rather than rejecting unknown fields.
type Metadata struct {
	Tags       []string               `json:"tags,omitempty"`
	RelatedIDs []int64                `json:"related_ids,omitempty"`
	Source     string                 `json:"source,omitempty"`
	Custom     map[string]interface{} `json:"custom,omitempty"`
}

// recognizedMetadataKeys is the whitelist; anything else is relocated to Custom.
var recognizedMetadataKeys = map[string]bool{
	"tags": true, "related_ids": true, "source": true,
	// importance and emotional_intensity are lifted onto Record directly by
	// the dispatcher's save path rather than kept in Metadata, but callers may still pass
	// them inside the metadata map — recognized here so they are not
	// mistakenly shoved into custom.
	"importance": true, "emotional_intensity": true,
}

// NewMetadataFromMap builds a Metadata envelope from a raw request map,
// relocating any key outside the whitelist under Custom.
func NewMetadataFromMap(raw map[string]interface{}) Metadata {
	m := Metadata{}
	for k, v := range raw {
		if !recognizedMetadataKeys[k] {
			if m.Custom == nil {
				m.Custom = make(map[string]interface{})
			}
			m.Custom[k] = v
			continue
		}
		switch k {
		case "tags":
			m.Tags = toStringSlice(v)
		case "related_ids":
			m.RelatedIDs = toInt64Slice(v)
		case "source":
			if s, ok := v.(string); ok {
				m.Source = s
			}
		}
	}
	return m
}

func toStringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// marshalMetadata serializes a Metadata envelope for storage in the
// metadata column (§3).
func marshalMetadata(m Metadata) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalMetadata parses the metadata column back into an envelope,
// tolerating an empty or legacy "{}" value.
func unmarshalMetadata(s string) (Metadata, error) {
	if s == "" {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

func toInt64Slice(v interface{}) []int64 {
	switch vv := v.(type) {
	case []int64:
		return vv
	case []interface{}:
		out := make([]int64, 0, len(vv))
		for _, e := range vv {
			switch n := e.(type) {
			case float64:
				out = append(out, int64(n))
			case int64:
				out = append(out, n)
			case int:
				out = append(out, int64(n))
			}
		}
		return out
	default:
		return nil
	}
}
