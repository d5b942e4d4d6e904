package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe-server/pkg/metrics"
)

func init() {
	metrics.EnableMetrics(false)
}

type parsedDoc struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

func TestParseModelResponseDirect(t *testing.T) {
	var doc parsedDoc
	stage, err := parseModelResponse(`{"summary": "visit note", "topics": ["headache"]}`, &doc)

	require.NoError(t, err)
	assert.Equal(t, "direct", stage)
	assert.Equal(t, "visit note", doc.Summary)
}

func TestParseModelResponseExtractsFromProse(t *testing.T) {
	raw := "Here is the analysis you asked for:\n```json\n{\"summary\": \"visit note\", \"topics\": []}\n```\nLet me know if you need anything else."

	var doc parsedDoc
	stage, err := parseModelResponse(raw, &doc)

	require.NoError(t, err)
	assert.Equal(t, "extract", stage)
	assert.Equal(t, "visit note", doc.Summary)
}

func TestParseModelResponseEscapesBareNewlines(t *testing.T) {
	// A literal newline inside a string value is invalid JSON; the cleanup
	// stage must escape it rather than reject the response.
	raw := "{\"summary\": \"line one\nline two\", \"topics\": []}"

	var doc parsedDoc
	stage, err := parseModelResponse(raw, &doc)

	require.NoError(t, err)
	assert.Equal(t, "cleanup", stage)
	assert.Equal(t, "line one\nline two", doc.Summary)
}

func TestParseModelResponseStripsTrailingCommas(t *testing.T) {
	raw := `{"summary": "visit note", "topics": ["headache", "fever",],}`

	var doc parsedDoc
	stage, err := parseModelResponse(raw, &doc)

	require.NoError(t, err)
	assert.Equal(t, "repair", stage)
	assert.Equal(t, []string{"headache", "fever"}, doc.Topics)
}

func TestParseModelResponseAllStagesFail(t *testing.T) {
	var doc parsedDoc
	_, err := parseModelResponse("I could not produce a structured answer, sorry.", &doc)

	require.Error(t, err)
}

func TestExtractBalancedJSON(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractBalancedJSON(`prefix {"a": 1} suffix`))
	assert.Equal(t, `{"a": {"b": 2}}`, extractBalancedJSON(`{"a": {"b": 2}} {"second": true}`))
	assert.Equal(t, `{"a": "brace } in string"}`, extractBalancedJSON(`{"a": "brace } in string"}`))
	assert.Equal(t, "", extractBalancedJSON("no json here"))
	assert.Equal(t, "", extractBalancedJSON(`{"unterminated": true`))
}
