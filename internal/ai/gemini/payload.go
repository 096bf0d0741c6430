package gemini

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spigell/job-crawler/internal/ai"
)

// parsePayload turns a raw model response into a normalized payload map.
// It first attempts a strict parse, then falls back to extracting a JSON
// object substring (handling code-fenced responses).
func parsePayload(raw string) (map[string]any, error) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return normalizePayload(value), nil
	}

	extracted, ok := extractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	if err := json.Unmarshal([]byte(extracted), &value); err != nil {
		return nil, fmt.Errorf("parse extracted JSON: %w", err)
	}

	return normalizePayload(value), nil
}

// extractJSONObject recovers the outermost {...} substring from a response,
// stripping surrounding code-fence markers first.
func extractJSONObject(text string) (string, bool) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.Trim(cleaned, "`")
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}

	return cleaned[start : end+1], true
}

// normalizePayload applies the post-parse coercions: a bare list becomes a
// queries payload, score is rounded to the nearest integer when possible, and
// a structured reason is serialized back to a string.
func normalizePayload(value any) map[string]any {
	if list, ok := value.([]any); ok {
		return map[string]any{"queries": list}
	}

	payload, ok := value.(map[string]any)
	if !ok {
		return map[string]any{"queries": []any{}}
	}

	if raw, ok := payload["score"]; ok {
		if score, ok := coerceScore(raw); ok {
			payload["score"] = score
		}
	}

	if raw, ok := payload["reason"]; ok {
		switch raw.(type) {
		case map[string]any, []any:
			if data, err := json.Marshal(raw); err == nil {
				payload["reason"] = string(data)
			}
		}
	}

	return payload
}

// coerceScore converts a numeric or numeric-string score to the nearest
// integer. Coercion failures are reported, not fixed; strict validation
// catches them later.
func coerceScore(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(math.Round(v)), true
	case int:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return int(math.Round(f)), true
	default:
		return 0, false
	}
}

// validateQueries strictly validates a normalized payload against the
// queries schema.
func validateQueries(payload map[string]any) (*ai.SearchQueries, error) {
	raw, ok := payload["queries"]
	if !ok {
		return nil, &ai.ValidationError{Schema: "queries", Detail: "missing queries field"}
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, &ai.ValidationError{Schema: "queries", Detail: fmt.Sprintf("queries is %T, expected list", raw)}
	}

	queries := make([]string, 0, len(list))
	for i, item := range list {
		query, ok := item.(string)
		if !ok {
			return nil, &ai.ValidationError{
				Schema: "queries",
				Detail: fmt.Sprintf("queries[%d] is %T, expected string", i, item),
			}
		}
		queries = append(queries, query)
	}

	return &ai.SearchQueries{Queries: queries}, nil
}

// validateEvaluation strictly validates a normalized payload against the
// evaluation schema.
func validateEvaluation(payload map[string]any) (*ai.JobEvaluation, error) {
	rawScore, ok := payload["score"]
	if !ok {
		return nil, &ai.ValidationError{Schema: "evaluation", Detail: "missing score field"}
	}

	score, ok := rawScore.(int)
	if !ok {
		return nil, &ai.ValidationError{
			Schema: "evaluation",
			Detail: fmt.Sprintf("score is %T, expected integer", rawScore),
		}
	}

	rawReason, ok := payload["reason"]
	if !ok {
		return nil, &ai.ValidationError{Schema: "evaluation", Detail: "missing reason field"}
	}

	reason, ok := rawReason.(string)
	if !ok {
		return nil, &ai.ValidationError{
			Schema: "evaluation",
			Detail: fmt.Sprintf("reason is %T, expected string", rawReason),
		}
	}

	return &ai.JobEvaluation{Score: score, Reason: reason}, nil
}
