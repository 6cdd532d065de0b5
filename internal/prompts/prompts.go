package prompts

import (
	"fmt"
	"os"
	"strings"

	"github.com/timmy/themescope/internal/domain"
)

// ============================================================================
// Protected placeholders
// ============================================================================

const (
	// ColumnPlaceholder is replaced with the name of the column being classified.
	ColumnPlaceholder = "{{column}}"

	// ResponseFormatPlaceholder is replaced with ResponseFormat. The response
	// parser depends on that exact shape, so templates must keep it.
	ResponseFormatPlaceholder = "{{response_format}}"
)

// ProtectedPlaceholders lists the tokens every template must contain.
var ProtectedPlaceholders = []string{ColumnPlaceholder, ResponseFormatPlaceholder}

// ============================================================================
// Classification prompt
// ============================================================================

// ResponseFormat describes the JSON document the classifier must return.
const ResponseFormat = `Respond with a single JSON object and nothing else:
{"items":[{"entryId":"<id of the entry>","topics":[{"mainCategory":"<short category>","subTheme":"<specific sub-theme>","sentiment":"Positive|Negative|Neutral|ConstructiveCriticism","direction":"Request|Complaint|Satisfaction|Observation"}],"actionable":true|false}]}
Return exactly one item for every entry you received, using the entry's id as entryId.`

// DefaultClassificationPrompt is the system prompt used when no template is configured.
const DefaultClassificationPrompt = `You are an analyst classifying free-text survey answers from the column "{{column}}".

For every entry:
1. Identify between 1 and 3 distinct topics the respondent talks about.
2. For each topic give a concise main category, a more specific sub-theme, the sentiment and the direction.
3. Mark the entry actionable when it contains a concrete request or a problem someone could fix.

Rules:
- Reuse the same category wording for the same idea across entries.
- Do not invent topics that are not in the text.
- Keep categories under 5 words.

{{response_format}}`

// ValidateTemplate checks that a template still carries every protected placeholder.
func ValidateTemplate(tmpl string) error {
	if strings.TrimSpace(tmpl) == "" {
		return domain.ConfigErrorf("prompt template is empty")
	}
	var missing []string
	for _, p := range ProtectedPlaceholders {
		if !strings.Contains(tmpl, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return domain.ConfigErrorf("prompt template is missing protected placeholders: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Render fills the template for one column.
func Render(tmpl, column string) string {
	return strings.NewReplacer(
		ColumnPlaceholder, column,
		ResponseFormatPlaceholder, ResponseFormat,
	).Replace(tmpl)
}

// Load returns the template stored at path, or DefaultClassificationPrompt when
// path is empty. The result is validated.
func Load(path string) (string, error) {
	tmpl := DefaultClassificationPrompt
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt template: %w", err)
		}
		tmpl = string(data)
	}
	if err := ValidateTemplate(tmpl); err != nil {
		return "", err
	}
	return tmpl, nil
}
