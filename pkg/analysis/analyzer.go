package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"scribe-server/pkg/cache"
	"scribe-server/pkg/config"
	"scribe-server/pkg/errors"
	"scribe-server/pkg/metrics"
)

// basicResponse is the wire shape of a basic analysis response.
type basicResponse struct {
	SpeakerAnalysis      SpeakerAnalysis       `json:"speaker_analysis"`
	ConversationSegments []ConversationSegment `json:"conversation_segments"`
	MedicalTopics        []string              `json:"medical_topics"`
	Summary              string                `json:"summary"`
	SOAPNote             BasicSOAPNote         `json:"soap_note"`
}

// sourcedResponse is the wire shape of a sourced analysis response.
type sourcedResponse struct {
	SpeakerAnalysis      SpeakerAnalysis       `json:"speaker_analysis"`
	ConversationSegments []ConversationSegment `json:"conversation_segments"`
	MedicalTopics        []string              `json:"medical_topics"`
	Summary              string                `json:"summary"`
	SOAP                 SOAPNote              `json:"soap_note_with_sources"`
	Metadata             Metadata              `json:"analysis_metadata"`
}

// Analyzer turns an accumulated transcript into a structured clinical
// note. Results are cached by variant plus normalized transcript; error
// results are never cached.
type Analyzer struct {
	logger *logrus.Logger
	model  LanguageModel
	cache  *cache.AnalysisCache
	config config.AIConfig

	analysisCount atomic.Int64
}

// NewAnalyzer creates an analysis engine backed by the given model and
// response cache.
func NewAnalyzer(logger *logrus.Logger, model LanguageModel, responseCache *cache.AnalysisCache, cfg config.AIConfig) *Analyzer {
	return &Analyzer{
		logger: logger,
		model:  model,
		cache:  responseCache,
		config: cfg,
	}
}

// Analyze produces an AnalysisResult for the transcript in the requested
// variant. The returned Result is always fully structured. The error is
// non-nil only when the language model itself failed and no degraded
// output could be produced; parse failures and short transcripts yield a
// structured Result with its Error field set and a nil error.
func (a *Analyzer) Analyze(ctx context.Context, transcript string, variant Variant) (*Result, error) {
	start := time.Now()
	result, err := a.analyze(ctx, transcript, variant)

	outcome := "success"
	switch {
	case err != nil:
		outcome = "failure"
	case result.IsError():
		outcome = "degraded"
	}
	metrics.RecordAnalysis(string(variant), outcome, time.Since(start))

	return result, err
}

func (a *Analyzer) analyze(ctx context.Context, transcript string, variant Variant) (*Result, error) {
	if len(strings.TrimSpace(transcript)) < a.config.MinTranscriptChars {
		a.logger.WithField("length", len(strings.TrimSpace(transcript))).Info("Transcript below analysis threshold")
		return newInsufficientDataResult(
			fmt.Sprintf("transcript must be at least %d characters", a.config.MinTranscriptChars)), nil
	}

	if cached, ok := a.cache.Get(string(variant), transcript); ok {
		metrics.RecordCacheLookup("analysis", true)
		a.logger.WithField("variant", variant).Info("Returning cached analysis")
		return cached.(*Result), nil
	}
	metrics.RecordCacheLookup("analysis", false)

	switch variant {
	case VariantSourced:
		return a.analyzeSourced(ctx, transcript)
	default:
		return a.analyzeBasic(ctx, transcript)
	}
}

func (a *Analyzer) analyzeBasic(ctx context.Context, transcript string) (*Result, error) {
	responseText, err := a.invokeModel(ctx, buildBasicPrompt(transcript))
	if err != nil {
		return nil, err
	}

	var parsed basicResponse
	stage, parseErr := parseModelResponse(responseText, &parsed)
	if parseErr != nil {
		a.logger.WithError(parseErr).Warn("Basic analysis response unparseable after all stages")
		return newDiagnosticErrorResult(parseErr, responseText), nil
	}

	a.logger.WithField("parse_stage", stage).Debug("Parsed basic analysis response")

	result := &Result{
		SpeakerAnalysis:      parsed.SpeakerAnalysis,
		ConversationSegments: parsed.ConversationSegments,
		MedicalTopics:        parsed.MedicalTopics,
		Summary:              parsed.Summary,
		SOAP:                 wrapBasicSOAP(parsed.SOAPNote),
	}

	a.cache.Put(string(VariantBasic), transcript, result)
	a.analysisCount.Add(1)
	return result, nil
}

func (a *Analyzer) analyzeSourced(ctx context.Context, transcript string) (*Result, error) {
	segments := SegmentTranscript(transcript)

	responseText, err := a.invokeModel(ctx, buildSourcedPrompt(segments))
	if err != nil {
		// The model is unreachable for the sourced prompt; a second
		// attempt via the basic variant would fail the same way.
		return nil, err
	}

	var parsed sourcedResponse
	stage, parseErr := parseModelResponse(responseText, &parsed)
	if parseErr != nil {
		a.logger.WithError(parseErr).Warn("Sourced analysis parsing failed, falling back to basic")
		return a.fallbackToBasic(ctx, transcript, segments)
	}

	a.logger.WithField("parse_stage", stage).Debug("Parsed sourced analysis response")

	result := &Result{
		SpeakerAnalysis:      parsed.SpeakerAnalysis,
		ConversationSegments: parsed.ConversationSegments,
		MedicalTopics:        parsed.MedicalTopics,
		Summary:              parsed.Summary,
		SOAP:                 parsed.SOAP,
		TranscriptSegments:   segments,
		Metadata:             parsed.Metadata,
	}
	if result.Metadata.TotalSegments == 0 {
		result.Metadata.TotalSegments = len(segments)
	}

	a.validateSourceReferences(result, segments)

	a.cache.Put(string(VariantSourced), transcript, result)
	a.analysisCount.Add(1)
	return result, nil
}

// fallbackToBasic satisfies the sourced contract when sourced parsing
// fails: the basic variant's flat SOAP strings are wrapped into sourced
// components with empty source lists and a fixed placeholder confidence.
// analyzeBasic has already cached its result under the basic variant, so
// the segment decoration goes on a copy; the cached entry must stay a
// plain basic result.
func (a *Analyzer) fallbackToBasic(ctx context.Context, transcript string, segments []TranscriptSegment) (*Result, error) {
	basic, err := a.analyzeBasic(ctx, transcript)
	if err != nil {
		return nil, err
	}

	result := *basic
	result.TranscriptSegments = segments
	result.Metadata = Metadata{TotalSegments: len(segments)}
	return &result, nil
}

// fallbackConfidence is assigned to SOAP components produced by wrapping a
// basic analysis, where no per-section confidence is available.
const fallbackConfidence = 80

func wrapBasicSOAP(note BasicSOAPNote) SOAPNote {
	wrap := func(content string) SOAPComponent {
		return SOAPComponent{
			Content:    content,
			Confidence: fallbackConfidence,
			Sources:    []SourceReference{},
		}
	}
	return SOAPNote{
		Subjective: wrap(note.Subjective),
		Objective:  wrap(note.Objective),
		Assessment: wrap(note.Assessment),
		Plan:       wrap(note.Plan),
	}
}

// invokeModel performs the single bounded model call. The timeout is
// fatal-with-error; there is no internal retry.
func (a *Analyzer) invokeModel(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	responseText, err := a.model.Complete(callCtx, prompt)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", errors.NewModelAPI("language model call timed out",
				map[string]interface{}{"timeout": a.config.Timeout.String()})
		}
		return "", err
	}
	return responseText, nil
}

// validateSourceReferences checks every cited segment id against the
// segment set for this call. References to unknown ids are kept but
// flagged; this is a traceability concern, not a correctness-blocking one.
func (a *Analyzer) validateSourceReferences(result *Result, segments []TranscriptSegment) {
	validIDs := segmentIDSet(segments)

	components := []*SOAPComponent{
		&result.SOAP.Subjective,
		&result.SOAP.Objective,
		&result.SOAP.Assessment,
		&result.SOAP.Plan,
	}

	for _, component := range components {
		a.validateComponentSources(component, validIDs)
	}
}

// validateComponentSources flags invalid citations in one component and
// recurses into its sub-components, which carry their own source lists.
func (a *Analyzer) validateComponentSources(component *SOAPComponent, validIDs map[int]bool) {
	for i := range component.Sources {
		ref := &component.Sources[i]
		for _, id := range ref.SegmentIDs {
			if !validIDs[id] {
				ref.InvalidSegmentIDs = append(ref.InvalidSegmentIDs, id)
			}
		}
		if len(ref.InvalidSegmentIDs) > 0 {
			a.logger.WithFields(logrus.Fields{
				"invalid_ids": ref.InvalidSegmentIDs,
				"excerpt":     ref.Excerpt,
			}).Warn("Source reference cites unknown transcript segments")
		}
	}

	for key, sub := range component.SubComponents {
		a.validateComponentSources(&sub, validIDs)
		component.SubComponents[key] = sub
	}
}

// Invalidate removes the cached result for a transcript/variant pair,
// forcing the next Analyze to call the model again.
func (a *Analyzer) Invalidate(transcript string, variant Variant) bool {
	return a.cache.Invalidate(string(variant), transcript)
}

// Stats returns the analyzer's read-only statistics.
func (a *Analyzer) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_analyses": a.analysisCount.Load(),
		"cache_stats":    a.cache.GetStats(),
	}
}
