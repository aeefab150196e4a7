package evaluations

import (
	"encoding/json"
	"strings"

	"designscore-backend/internal/shared/telemetry"
)

// ParsedResponse is the structured view of a scoring-service answer.
// Criteria is keyed by canonical criterion name and only contains
// entries the parser actually recognized.
type ParsedResponse struct {
	Criteria               map[string]CriterionScore
	Strengths              []string
	Weaknesses             []string
	Summary                string
	ColorAnalysis          string
	TypographyAnalysis     string
	VisualLanguageAnalysis string
}

const rawDiagnosticLimit = 500

// Field aliases accepted inside a criterion entry, checked in order.
var (
	pointsAliases      = []string{"points", "score"}
	rationaleAliases   = []string{"rationale", "explanation"}
	suggestionsAliases = []string{"suggestions", "recommendations"}
)

// ParseScoringResponse extracts structured fields from the free-form
// text returned by the scoring service. The trimmed text is parsed as
// JSON directly; failing that, the first balanced top-level object is
// located and parsed; failing that, a MalformedResponseError is
// returned carrying a truncated copy of the raw text. Individual
// missing fields never fail the parse, only a wholly unparseable
// payload does.
func ParseScoringResponse(raw string) (ParsedResponse, error) {
	trimmed := strings.TrimSpace(raw)

	var top map[string]any
	if err := json.Unmarshal([]byte(trimmed), &top); err != nil {
		embedded, ok := firstBalancedObject(trimmed)
		if !ok {
			return ParsedResponse{}, &MalformedResponseError{Raw: truncateRaw(raw)}
		}
		if err := json.Unmarshal([]byte(embedded), &top); err != nil {
			telemetry.Info("scoring.parse_fallback_failed", map[string]any{
				"error": err.Error(),
			})
			return ParsedResponse{}, &MalformedResponseError{Raw: truncateRaw(raw)}
		}
	}

	container := top
	if nested, ok := top["criteria"].(map[string]any); ok {
		container = nested
	}

	parsed := ParsedResponse{Criteria: make(map[string]CriterionScore)}
	for _, criterion := range Rubric {
		entry, ok := lookupEntry(container, criterion.Code, criterion.Name)
		if !ok {
			continue
		}
		parsed.Criteria[criterion.Name] = CriterionScore{
			Name:        criterion.Name,
			Points:      clampPoints(intField(entry, pointsAliases...), criterion.MaxPoints),
			MaxPoints:   criterion.MaxPoints,
			Rationale:   stringField(entry, rationaleAliases...),
			Suggestions: stringListField(entry, suggestionsAliases...),
		}
	}

	parsed.Strengths = stringListField(top, "strengths")
	parsed.Weaknesses = stringListField(top, "weaknesses")
	parsed.Summary = stringField(top, "summary", "overallAssessment")
	parsed.ColorAnalysis = stringField(top, "colorAnalysis")
	parsed.TypographyAnalysis = stringField(top, "typographyAnalysis")
	parsed.VisualLanguageAnalysis = stringField(top, "visualLanguageAnalysis")
	return parsed, nil
}

// firstBalancedObject returns the first top-level {...} in s, honoring
// string literals and escapes.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func lookupEntry(container map[string]any, keys ...string) (map[string]any, bool) {
	for _, key := range keys {
		if raw, ok := container[key]; ok {
			if entry, ok := raw.(map[string]any); ok {
				return entry, true
			}
		}
	}
	return nil, false
}

func intField(entry map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := entry[key].(type) {
		case float64:
			return int(v)
		case string:
			var parsed float64
			if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &parsed); err == nil {
				return int(parsed)
			}
		}
	}
	return 0
}

func stringField(entry map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := entry[key].(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func stringListField(entry map[string]any, keys ...string) []string {
	for _, key := range keys {
		raw, ok := entry[key]
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func clampPoints(points, max int) int {
	if points < 0 {
		return 0
	}
	if points > max {
		return max
	}
	return points
}

func truncateRaw(raw string) string {
	if len(raw) > rawDiagnosticLimit {
		return raw[:rawDiagnosticLimit]
	}
	return raw
}
