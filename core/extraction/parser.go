package extraction

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/forksight/forksight/model"
)

// mentionsEnvelope is the expected root shape of the extraction response
type mentionsEnvelope struct {
	Mentions []*model.Mention `json:"mentions"`
}

// CleanResponseText strips Markdown code-fence wrappers from a model
// response, with or without a language tag.
func CleanResponseText(text string) string {
	cleaned := strings.TrimSpace(text)

	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		} else {
			cleaned = strings.TrimPrefix(cleaned, "```json")
			cleaned = strings.TrimPrefix(cleaned, "```")
		}
	}
	if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[:idx]
	}

	return strings.TrimSpace(cleaned)
}

// RepairTruncatedJSON attempts to recover a response cut off mid-array
// by the model's token budget. It truncates at the last fully closed
// object inside the top-level mentions array and closes the array and
// the root object. The second return reports whether a repair was made.
// This is best-effort string surgery, not a guarantee of completeness:
// a valid trailing mention may be dropped.
func RepairTruncatedJSON(text string) (string, bool) {
	if strings.HasSuffix(text, "}") || strings.HasSuffix(text, "]") {
		return text, false
	}

	idx := strings.LastIndex(text, "},")
	if idx < 0 {
		return text, false
	}

	return text[:idx+1] + "]}", true
}

// ParseMentions decodes an extraction response into mentions, cleaning
// fence wrappers and repairing truncation first. A response that was
// received but cannot be decoded fails with a response_parsing error
// carrying the raw text; it is never silently treated as empty.
func ParseMentions(text string, logger *slog.Logger) ([]*model.Mention, error) {
	cleaned := CleanResponseText(text)

	repaired, wasRepaired := RepairTruncatedJSON(cleaned)
	if wasRepaired {
		// Logged so data quality of lossy recoveries can be monitored
		logger.Warn("repaired truncated extraction response",
			slog.Int("original_len", len(cleaned)), slog.Int("repaired_len", len(repaired)))
	}

	var envelope mentionsEnvelope
	if err := json.Unmarshal([]byte(repaired), &envelope); err != nil {
		return nil, &model.PipelineError{
			Kind:       model.ErrorKindResponseParsing,
			Message:    "extraction response is not valid JSON",
			RawPayload: text,
			Err:        err,
		}
	}

	if envelope.Mentions == nil {
		return nil, &model.PipelineError{
			Kind:       model.ErrorKindResponseParsing,
			Message:    "extraction response has no mentions array",
			RawPayload: text,
		}
	}

	valid := make([]*model.Mention, 0, len(envelope.Mentions))
	for _, mention := range envelope.Mentions {
		// A JSON null in the array decodes to a nil pointer
		if mention == nil {
			logger.Warn("dropping null mention entry")
			continue
		}
		if err := validateMention(mention); err != nil {
			logger.Warn("dropping invalid mention",
				slog.String("temp_id", mention.TempID), slog.String("reason", err.Error()))
			continue
		}
		valid = append(valid, mention)
	}

	return valid, nil
}

func validateMention(mention *model.Mention) error {
	if mention.RestaurantName == "" {
		return &model.PipelineError{Kind: model.ErrorKindValidation, Message: "missing restaurant name"}
	}
	if mention.RestaurantNormalizedName == "" {
		mention.RestaurantNormalizedName = model.NormalizeName(mention.RestaurantName)
	}
	if mention.Source.ID == "" || mention.Source.Type == "" {
		return &model.PipelineError{Kind: model.ErrorKindValidation, Message: "missing source provenance"}
	}
	if mention.Dish != nil && mention.Dish.Name != "" && mention.Dish.NormalizedName == "" {
		mention.Dish.NormalizedName = model.NormalizeName(mention.Dish.Name)
	}
	return nil
}
