package cascade

import "strings"

// Filters is the recognized-key filter map for query_layer and recall
// (§4.3). All fields are optional; a zero value means "not specified" for
// pointer fields.
type Filters struct {
	ID                     *int64
	ImportanceMin          *float64
	ImportanceMax          *float64
	EmotionalIntensityMin  *float64
	EmotionalIntensityMax  *float64
	TimestampAfter         *float64
	TimestampBefore        *float64
	ContentContains        *string
	ContextContains        *string
	EffectiveImportanceMin *float64
	EffectiveImportanceMax *float64

	// QueryContains is recall's free-text search term, matched against
	// content (and its `event` mirror) and context together — context is
	// "auxiliary free text searched alongside content" per §3's data
	// model. query_layer's content_contains/context_contains stay
	// independent AND-able filters; this field is recall-only.
	QueryContains *string
}

// orderColumns is the ORDER BY whitelist (§4.3); note "event" mirrors
// "content" for legacy search parity (§3) and is mapped, not compiled
// directly from caller input.
var orderColumns = map[string]string{
	"id": "id", "timestamp": "timestamp", "content": "content",
	"event": "event", "context": "context",
	"emotional_intensity": "emotional_intensity", "importance": "importance",
}

const defaultOrderBy = "timestamp DESC"

// CompiledQuery is a parameterized WHERE + ORDER BY ready for LayerStore.Scan.
type CompiledQuery struct {
	Where   string
	Args    []interface{}
	OrderBy string
}

// CompileOrderBy validates a caller-supplied "<column> <direction>" string
// against the whitelist, falling back to timestamp DESC on any deviation
// (§4.3, §8 property 11). An empty string also falls back.
func CompileOrderBy(orderBy string) string {
	parts := strings.Fields(orderBy)
	if len(parts) != 2 {
		return defaultOrderBy
	}
	col, ok := orderColumns[strings.ToLower(parts[0])]
	if !ok {
		return defaultOrderBy
	}
	dir := strings.ToUpper(parts[1])
	if dir != "ASC" && dir != "DESC" {
		return defaultOrderBy
	}
	return col + " " + dir
}

// escapeLike escapes %, _, and \ for a LIKE pattern using \ as the escape
// character, then wraps the fragment in %...% (§4.3, §8 property 10).
func escapeLike(fragment string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(fragment) + "%"
}

// Compile translates filters, a decay-visibility policy, and an ORDER BY
// request into a parameterized scan. includeDecayed=false AND-conjoins the
// visibility clause from §4.3/§4.5.
func Compile(f Filters, includeDecayed bool, visibilityThreshold float64, orderBy string) (CompiledQuery, error) {
	if err := validateFilterRanges(f); err != nil {
		return CompiledQuery{}, err
	}

	var clauses []string
	var args []interface{}

	if f.ID != nil {
		clauses = append(clauses, "id = ?")
		args = append(args, *f.ID)
	}
	if f.ImportanceMin != nil {
		clauses = append(clauses, "importance >= ?")
		args = append(args, *f.ImportanceMin)
	}
	if f.ImportanceMax != nil {
		clauses = append(clauses, "importance <= ?")
		args = append(args, *f.ImportanceMax)
	}
	if f.EmotionalIntensityMin != nil {
		clauses = append(clauses, "emotional_intensity >= ?")
		args = append(args, *f.EmotionalIntensityMin)
	}
	if f.EmotionalIntensityMax != nil {
		clauses = append(clauses, "emotional_intensity <= ?")
		args = append(args, *f.EmotionalIntensityMax)
	}
	if f.TimestampAfter != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *f.TimestampAfter)
	}
	if f.TimestampBefore != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, *f.TimestampBefore)
	}
	if f.ContentContains != nil {
		clauses = append(clauses, `(event LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`)
		pattern := escapeLike(*f.ContentContains)
		args = append(args, pattern, pattern)
	}
	if f.ContextContains != nil {
		clauses = append(clauses, `context LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(*f.ContextContains))
	}
	if f.QueryContains != nil {
		clauses = append(clauses, `(event LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\' OR context LIKE ? ESCAPE '\')`)
		pattern := escapeLike(*f.QueryContains)
		args = append(args, pattern, pattern, pattern)
	}
	if f.EffectiveImportanceMin != nil {
		clauses = append(clauses, "effective_importance >= ?")
		args = append(args, *f.EffectiveImportanceMin)
	}
	if f.EffectiveImportanceMax != nil {
		clauses = append(clauses, "effective_importance <= ?")
		args = append(args, *f.EffectiveImportanceMax)
	}

	if !includeDecayed {
		clauses = append(clauses, "(effective_importance IS NULL OR effective_importance >= ?)")
		args = append(args, visibilityThreshold)
	}

	where := "1=1"
	if len(clauses) > 0 {
		where = strings.Join(clauses, " AND ")
	}

	return CompiledQuery{Where: where, Args: args, OrderBy: CompileOrderBy(orderBy)}, nil
}

func validateFilterRanges(f Filters) error {
	if f.ImportanceMin != nil && f.ImportanceMax != nil && *f.ImportanceMin > *f.ImportanceMax {
		return NewError(CodeInvalidQuery, "importance_min must be <= importance_max")
	}
	if f.EmotionalIntensityMin != nil && f.EmotionalIntensityMax != nil && *f.EmotionalIntensityMin > *f.EmotionalIntensityMax {
		return NewError(CodeInvalidQuery, "emotional_intensity_min must be <= emotional_intensity_max")
	}
	if f.EffectiveImportanceMin != nil && f.EffectiveImportanceMax != nil && *f.EffectiveImportanceMin > *f.EffectiveImportanceMax {
		return NewError(CodeInvalidQuery, "effective_importance_min must be <= effective_importance_max")
	}
	if f.TimestampAfter != nil && f.TimestampBefore != nil && *f.TimestampAfter > *f.TimestampBefore {
		return NewError(CodeInvalidQuery, "timestamp_after must be <= timestamp_before")
	}
	return nil
}

// RecallOrderBy is the authoritative recall ordering (§6, §9 open question):
// COALESCE(effective_importance, importance) DESC, timestamp DESC.
const RecallOrderBy = "COALESCE(effective_importance, importance) DESC, timestamp DESC"
