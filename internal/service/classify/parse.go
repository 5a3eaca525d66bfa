package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"inboxtriage/internal/model"
)

// PlaceholderSummary is used when the oracle returns no summary.
const PlaceholderSummary = "No summary available"

var errInvalidResponse = errors.New("invalid oracle response")

// rawCategorization keeps every field raw so that types can be checked explicitly.
type rawCategorization struct {
	CategoryID json.RawMessage `json:"category_id"`
	Confidence json.RawMessage `json:"confidence"`
	Summary    json.RawMessage `json:"summary"`
}

// parseCategorization validates an oracle reply against the known category ids.
func parseCategorization(reply string, categories []model.CategoryRef) (*model.ClassificationResult, error) {
	body, err := jsonObject(reply)
	if err != nil {
		return nil, err
	}

	var raw rawCategorization
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidResponse, err)
	}

	result := &model.ClassificationResult{Summary: PlaceholderSummary}

	if len(raw.CategoryID) > 0 && !isNull(raw.CategoryID) {
		var f float64
		if err := json.Unmarshal(raw.CategoryID, &f); err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: category_id must be an integer or null", errInvalidResponse)
		}
		id := int(f)
		if !knownCategory(id, categories) {
			return nil, fmt.Errorf("%w: unknown category_id %d", errInvalidResponse, id)
		}
		result.CategoryID = &id
	}

	if len(raw.Confidence) == 0 || isNull(raw.Confidence) {
		return nil, fmt.Errorf("%w: confidence is required", errInvalidResponse)
	}
	if err := json.Unmarshal(raw.Confidence, &result.Confidence); err != nil ||
		math.IsNaN(result.Confidence) || result.Confidence < 0 || result.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be a number in [0,1]", errInvalidResponse)
	}

	if len(raw.Summary) > 0 && !isNull(raw.Summary) {
		var summary string
		if err := json.Unmarshal(raw.Summary, &summary); err != nil {
			return nil, fmt.Errorf("%w: summary must be a string", errInvalidResponse)
		}
		if summary = strings.TrimSpace(summary); summary != "" {
			result.Summary = summary
		}
	}

	return result, nil
}

type rawUnsubscribe struct {
	URL   *string `json:"url"`
	Email *string `json:"email"`
	Found *bool   `json:"found"`
}

func parseUnsubscribe(reply string) (model.UnsubscribeInfo, error) {
	body, err := jsonObject(reply)
	if err != nil {
		return model.UnsubscribeInfo{}, err
	}
	var raw rawUnsubscribe
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.UnsubscribeInfo{}, fmt.Errorf("%w: %v", errInvalidResponse, err)
	}
	if raw.Found == nil {
		return model.UnsubscribeInfo{}, fmt.Errorf("%w: found is required", errInvalidResponse)
	}

	info := model.UnsubscribeInfo{}
	if raw.URL != nil && strings.HasPrefix(*raw.URL, "http") {
		info.URL = strings.TrimSpace(*raw.URL)
	}
	if raw.Email != nil && strings.Contains(*raw.Email, "@") {
		info.Email = strings.TrimPrefix(strings.TrimSpace(*raw.Email), "mailto:")
	}
	info.Found = *raw.Found && (info.URL != "" || info.Email != "")
	return info, nil
}

// jsonObject returns the reply as a JSON object, allowing only a surrounding
// markdown code fence. Anything else is an invalid response.
func jsonObject(reply string) ([]byte, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") || !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("%w: not a JSON object", errInvalidResponse)
	}
	return []byte(s), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func knownCategory(id int, categories []model.CategoryRef) bool {
	for _, c := range categories {
		if c.ID == id {
			return true
		}
	}
	return false
}
