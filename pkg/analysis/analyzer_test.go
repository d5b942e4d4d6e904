package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe-server/pkg/cache"
	"scribe-server/pkg/config"
	"scribe-server/pkg/errors"
)

// stubModel returns canned responses in order, recording the prompts it
// was given.
type stubModel struct {
	responses []string
	errs      []error
	prompts   []string
	calls     int
}

func (m *stubModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", errors.NewModelAPI("stub exhausted")
}

func testConfig() config.AIConfig {
	return config.AIConfig{
		Model:              "test-model",
		MaxTokens:          1000,
		Temperature:        0.1,
		Timeout:            5 * time.Second,
		MinTranscriptChars: 10,
	}
}

func newTestAnalyzer(model LanguageModel) *Analyzer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewAnalyzer(logger, model, cache.NewAnalysisCache(10, time.Hour), testConfig())
}

const sourcedResponseJSON = `{
	"speaker_analysis": {"doctor_segments": [], "patient_segments": [], "doctor_percentage": 50, "patient_percentage": 50},
	"conversation_segments": [],
	"medical_topics": ["headache"],
	"summary": "Patient reports a headache.",
	"soap_note_with_sources": {
		"subjective": {"content": "Patient reports headache.", "confidence": 90,
			"sources": [{"segment_ids": [2], "excerpt": "I have a headache", "reasoning": "direct statement"}]},
		"objective": {"content": "Not documented.", "confidence": 70, "sources": []},
		"assessment": {"content": "Headache, etiology unclear.", "confidence": 75, "sources": [{"segment_ids": [2], "excerpt": "headache", "reasoning": "symptom"}]},
		"plan": {"content": "Follow up.", "confidence": 60, "sources": []}
	},
	"analysis_metadata": {"total_segments": 2, "overall_confidence": 80}
}`

const basicResponseJSON = `{
	"speaker_analysis": {"doctor_segments": [], "patient_segments": [], "doctor_percentage": 50, "patient_percentage": 50},
	"conversation_segments": [],
	"medical_topics": ["headache"],
	"summary": "Patient reports a headache.",
	"soap_note": {
		"subjective": "Patient reports headache.",
		"objective": "Not documented.",
		"assessment": "Headache.",
		"plan": "Follow up."
	}
}`

const transcript = "Doctor: How are you. Patient: I have a headache."

func TestAnalyzeShortTranscriptSkipsModel(t *testing.T) {
	model := &stubModel{}
	analyzer := newTestAnalyzer(model)

	result, err := analyzer.Analyze(context.Background(), "short", VariantSourced)

	require.NoError(t, err)
	assert.True(t, result.IsError())
	assert.Equal(t, 0, model.calls, "model must not be contacted for short transcripts")
	assert.NotEmpty(t, result.SOAP.Subjective.Content, "degraded result still carries a full note")
}

func TestAnalyzeSourcedSuccess(t *testing.T) {
	model := &stubModel{responses: []string{sourcedResponseJSON}}
	analyzer := newTestAnalyzer(model)

	result, err := analyzer.Analyze(context.Background(), transcript, VariantSourced)

	require.NoError(t, err)
	assert.False(t, result.IsError())
	assert.Equal(t, "Patient reports a headache.", result.Summary)
	assert.Len(t, result.TranscriptSegments, 2)

	require.Len(t, result.SOAP.Subjective.Sources, 1)
	assert.Equal(t, []int{2}, result.SOAP.Subjective.Sources[0].SegmentIDs)
	assert.Empty(t, result.SOAP.Subjective.Sources[0].InvalidSegmentIDs)
}

func TestAnalyzeCachesResult(t *testing.T) {
	model := &stubModel{responses: []string{sourcedResponseJSON}}
	analyzer := newTestAnalyzer(model)

	first, err := analyzer.Analyze(context.Background(), transcript, VariantSourced)
	require.NoError(t, err)

	// Cosmetic differences must hit the same cached entry.
	second, err := analyzer.Analyze(context.Background(), "  DOCTOR: How are you. Patient: I have a headache. ", VariantSourced)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, model.calls)
}

func TestAnalyzeInvalidateForcesRecompute(t *testing.T) {
	model := &stubModel{responses: []string{sourcedResponseJSON, sourcedResponseJSON}}
	analyzer := newTestAnalyzer(model)

	_, err := analyzer.Analyze(context.Background(), transcript, VariantSourced)
	require.NoError(t, err)

	assert.True(t, analyzer.Invalidate(transcript, VariantSourced))

	_, err = analyzer.Analyze(context.Background(), transcript, VariantSourced)
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls, "invalidation must force a fresh model call")
}

func TestAnalyzeSourcedFallsBackToBasic(t *testing.T) {
	model := &stubModel{responses: []string{"not json at all", basicResponseJSON}}
	analyzer := newTestAnalyzer(model)

	result, err := analyzer.Analyze(context.Background(), transcript, VariantSourced)

	require.NoError(t, err)
	assert.False(t, result.IsError())
	assert.Equal(t, 2, model.calls)

	// Basic sections are wrapped as sourced components with no citations.
	assert.Equal(t, "Patient reports headache.", result.SOAP.Subjective.Content)
	assert.Equal(t, fallbackConfidence, result.SOAP.Subjective.Confidence)
	assert.Empty(t, result.SOAP.Subjective.Sources)
	assert.Len(t, result.TranscriptSegments, 2)
}

func TestAnalyzeFallbackLeavesBasicCacheClean(t *testing.T) {
	model := &stubModel{responses: []string{"not json at all", basicResponseJSON}}
	analyzer := newTestAnalyzer(model)

	sourced, err := analyzer.Analyze(context.Background(), transcript, VariantSourced)
	require.NoError(t, err)
	require.Len(t, sourced.TranscriptSegments, 2)

	// The fallback cached a basic result along the way; that entry must
	// stay a plain basic result, untouched by the sourced decoration.
	basic, err := analyzer.Analyze(context.Background(), transcript, VariantBasic)
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls, "the basic variant is served from cache")
	assert.NotSame(t, sourced, basic)
	assert.Empty(t, basic.TranscriptSegments)
	assert.Zero(t, basic.Metadata.TotalSegments)
}

func TestAnalyzeModelFailureReturnsError(t *testing.T) {
	model := &stubModel{errs: []error{errors.NewModelAPI("model unavailable")}}
	analyzer := newTestAnalyzer(model)

	_, err := analyzer.Analyze(context.Background(), transcript, VariantSourced)

	require.Error(t, err)
	assert.Equal(t, 1, model.calls, "a failed model call is not retried internally")
}

func TestAnalyzeParseFailureNotCached(t *testing.T) {
	model := &stubModel{responses: []string{"garbage", "also garbage", basicResponseJSON, basicResponseJSON}}
	analyzer := newTestAnalyzer(model)

	result, err := analyzer.Analyze(context.Background(), transcript, VariantBasic)
	require.NoError(t, err)
	assert.True(t, result.IsError())

	// The error outcome must not be served from cache on the next call.
	result, err = analyzer.Analyze(context.Background(), transcript, VariantBasic)
	require.NoError(t, err)
	assert.True(t, result.IsError())
	assert.Equal(t, 2, model.calls)
}

func TestAnalyzeFlagsInvalidSegmentCitations(t *testing.T) {
	response := `{
		"summary": "note",
		"medical_topics": [],
		"soap_note_with_sources": {
			"subjective": {"content": "x", "confidence": 90,
				"sources": [{"segment_ids": [1, 99], "excerpt": "e", "reasoning": "r"}]},
			"objective": {"content": "x", "confidence": 90, "sources": []},
			"assessment": {"content": "x", "confidence": 90, "sources": []},
			"plan": {"content": "x", "confidence": 90, "sources": []}
		},
		"analysis_metadata": {"total_segments": 2, "overall_confidence": 80}
	}`
	model := &stubModel{responses: []string{response}}
	analyzer := newTestAnalyzer(model)

	result, err := analyzer.Analyze(context.Background(), transcript, VariantSourced)
	require.NoError(t, err)

	require.Len(t, result.SOAP.Subjective.Sources, 1)
	assert.Equal(t, []int{99}, result.SOAP.Subjective.Sources[0].InvalidSegmentIDs,
		"citations outside the segment set are flagged, not dropped")
}

func TestAnalyzeFlagsInvalidCitationsInSubComponents(t *testing.T) {
	response := `{
		"summary": "note",
		"medical_topics": [],
		"soap_note_with_sources": {
			"subjective": {"content": "x", "confidence": 90, "sources": [],
				"sub_components": {
					"hpi": {"content": "y", "confidence": 85,
						"sources": [{"segment_ids": [1, 42], "excerpt": "e", "reasoning": "r"}]}
				}},
			"objective": {"content": "x", "confidence": 90, "sources": []},
			"assessment": {"content": "x", "confidence": 90, "sources": []},
			"plan": {"content": "x", "confidence": 90, "sources": []}
		},
		"analysis_metadata": {"total_segments": 2, "overall_confidence": 80}
	}`
	model := &stubModel{responses: []string{response}}
	analyzer := newTestAnalyzer(model)

	result, err := analyzer.Analyze(context.Background(), transcript, VariantSourced)
	require.NoError(t, err)

	sub, ok := result.SOAP.Subjective.SubComponents["hpi"]
	require.True(t, ok)
	require.Len(t, sub.Sources, 1)
	assert.Equal(t, []int{42}, sub.Sources[0].InvalidSegmentIDs,
		"nested citations are validated like top-level ones")
}

func TestAnalyzeSourcedPromptContainsNumberedSegments(t *testing.T) {
	model := &stubModel{responses: []string{sourcedResponseJSON}}
	analyzer := newTestAnalyzer(model)

	_, err := analyzer.Analyze(context.Background(), transcript, VariantSourced)
	require.NoError(t, err)

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "[1] Doctor: How are you.")
	assert.Contains(t, model.prompts[0], "[2] Patient: I have a headache.")
}
