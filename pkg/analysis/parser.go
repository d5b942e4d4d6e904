package analysis

import (
	"encoding/json"
	"regexp"
	"strings"

	"scribe-server/pkg/errors"
	"scribe-server/pkg/metrics"
)

// parseStage is one attempt in the ordered parse table. transform derives
// a candidate JSON text from the raw model response; an empty candidate
// means the stage does not apply.
type parseStage struct {
	name      string
	transform func(raw string) string
}

// parseStages is the fixed order of attempts applied to a model response.
// The first stage whose candidate unmarshals wins.
var parseStages = []parseStage{
	{name: "direct", transform: func(raw string) string {
		return strings.TrimSpace(raw)
	}},
	{name: "extract", transform: func(raw string) string {
		return extractBalancedJSON(raw)
	}},
	{name: "cleanup", transform: func(raw string) string {
		return cleanupJSON(extractOrWhole(raw))
	}},
	{name: "repair", transform: func(raw string) string {
		return repairJSON(cleanupJSON(extractOrWhole(raw)))
	}},
}

// parseModelResponse runs the response text through the parse table,
// unmarshalling into target. Returns the winning stage name, or a parsing
// error when every stage fails.
func parseModelResponse(raw string, target interface{}) (string, error) {
	var lastErr error

	for _, stage := range parseStages {
		candidate := stage.transform(raw)
		if candidate == "" {
			continue
		}

		if err := json.Unmarshal([]byte(candidate), target); err != nil {
			lastErr = err
			continue
		}

		if stage.name != "direct" {
			metrics.RecordParseFallback(stage.name)
		}
		return stage.name, nil
	}

	if lastErr == nil {
		lastErr = errors.NewParsing("no JSON object found in response")
	}
	return "", errors.Wrap(lastErr, "all parse stages failed").WithCode("PARSING_ERROR")
}

func extractOrWhole(raw string) string {
	if extracted := extractBalancedJSON(raw); extracted != "" {
		return extracted
	}
	return strings.TrimSpace(raw)
}

// extractBalancedJSON returns the first balanced {...} block in the text,
// respecting string literals and escapes. Returns "" when no balanced
// block exists.
func extractBalancedJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return ""
}

// cleanupJSON conservatively repairs a candidate: bare newlines and tabs
// inside string literals are escaped, and remaining control characters are
// stripped.
func cleanupJSON(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	inString := false
	escaped := false

	for _, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
				sb.WriteRune(r)
				continue
			case r == '\\':
				escaped = true
				sb.WriteRune(r)
				continue
			case r == '"':
				inString = false
				sb.WriteRune(r)
				continue
			case r == '\n':
				sb.WriteString(`\n`)
				continue
			case r == '\t':
				sb.WriteString(`\t`)
				continue
			case r < 0x20 || r == 0x7f:
				continue
			}
			sb.WriteRune(r)
			continue
		}

		if r == '"' {
			inString = true
		}
		if r != '\n' && r != '\t' && r != '\r' && (r < 0x20 || r == 0x7f) {
			continue
		}
		sb.WriteRune(r)
	}

	return sb.String()
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// repairJSON aggressively repairs a candidate: trailing commas before
// closing brackets are removed along with any remaining control
// characters.
func repairJSON(text string) string {
	repaired := trailingCommaRe.ReplaceAllString(text, "$1")

	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, repaired)
}
