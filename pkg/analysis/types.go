package analysis

// Variant selects the analysis output mode.
type Variant string

const (
	// VariantBasic produces a flat SOAP note without source mapping.
	VariantBasic Variant = "basic"
	// VariantSourced produces a SOAP note whose statements cite the
	// transcript segments that support them.
	VariantSourced Variant = "sourced"
)

// TranscriptSegment is one numbered sentence of the transcript, used as the
// citation unit for sourced analyses. IDs are 1-based and contiguous.
type TranscriptSegment struct {
	ID       int    `json:"id"`
	Text     string `json:"text"`
	StartPos int    `json:"start_pos"`
	EndPos   int    `json:"end_pos"`
}

// SourceReference cites the transcript segments supporting one SOAP
// statement. InvalidSegmentIDs lists cited ids that do not exist in the
// segment set for this analysis; such references are kept but flagged.
type SourceReference struct {
	SegmentIDs        []int    `json:"segment_ids"`
	Excerpt           string   `json:"excerpt"`
	Reasoning         string   `json:"reasoning"`
	Confidence        *float64 `json:"confidence_score,omitempty"`
	InvalidSegmentIDs []int    `json:"invalid_segment_ids,omitempty"`
}

// SOAPComponent is one section of a sourced SOAP note.
type SOAPComponent struct {
	Content       string                   `json:"content"`
	Confidence    int                      `json:"confidence"`
	Sources       []SourceReference        `json:"sources"`
	SubComponents map[string]SOAPComponent `json:"sub_components,omitempty"`
}

// SOAPNote is a complete SOAP note with source mapping.
type SOAPNote struct {
	Subjective SOAPComponent `json:"subjective"`
	Objective  SOAPComponent `json:"objective"`
	Assessment SOAPComponent `json:"assessment"`
	Plan       SOAPComponent `json:"plan"`
}

// BasicSOAPNote is a SOAP note without source mapping, as returned by the
// basic analysis variant.
type BasicSOAPNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// SpeakerAnalysis summarizes the speaker distribution of the conversation.
type SpeakerAnalysis struct {
	DoctorSegments    []string `json:"doctor_segments"`
	PatientSegments   []string `json:"patient_segments"`
	DoctorPercentage  float64  `json:"doctor_percentage"`
	PatientPercentage float64  `json:"patient_percentage"`
}

// ConversationSegment is one classified exchange in the conversation.
type ConversationSegment struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Speaker string `json:"speaker"`
}

// Metadata describes the analysis run.
type Metadata struct {
	TotalSegments     int `json:"total_segments"`
	OverallConfidence int `json:"overall_confidence"`
}

// Result is the outcome of an analysis call. It is always fully
// structured: error outcomes carry Error/Reason plus a degraded but
// complete SOAP note, never raw unstructured text alone. Consumers decide
// between the two shapes with IsError.
type Result struct {
	Error       string `json:"error,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`

	SpeakerAnalysis      SpeakerAnalysis       `json:"speaker_analysis"`
	ConversationSegments []ConversationSegment `json:"conversation_segments"`
	MedicalTopics        []string              `json:"medical_topics"`
	Summary              string                `json:"summary"`
	SOAP                 SOAPNote              `json:"soap_note_with_sources"`
	TranscriptSegments   []TranscriptSegment   `json:"transcript_segments,omitempty"`
	Metadata             Metadata              `json:"analysis_metadata"`
}

// IsError reports whether the result is an error outcome.
func (r *Result) IsError() bool {
	return r != nil && r.Error != ""
}

// newInsufficientDataResult builds the structured result returned for
// transcripts below the analysis threshold, without contacting the model.
func newInsufficientDataResult(reason string) *Result {
	return &Result{
		Error:                "Transcript too short for analysis",
		Reason:               reason,
		ConversationSegments: []ConversationSegment{},
		MedicalTopics:        []string{},
		Summary:              "Insufficient conversation content for analysis",
		SOAP: SOAPNote{
			Subjective: SOAPComponent{Content: "Insufficient data - conversation too brief", Sources: []SourceReference{}},
			Objective:  SOAPComponent{Content: "Not documented - no clinical findings available", Sources: []SourceReference{}},
			Assessment: SOAPComponent{Content: "Cannot assess - inadequate clinical information", Sources: []SourceReference{}},
			Plan:       SOAPComponent{Content: "Unable to formulate plan - recommend longer conversation", Sources: []SourceReference{}},
		},
	}
}

// NewNoSpeechResult builds the structured result emitted when a session
// ends with an empty transcript.
func NewNoSpeechResult() *Result {
	return &Result{
		Error:                "No transcript available",
		Reason:               "No speech was detected or transcribed during the recording session",
		ConversationSegments: []ConversationSegment{},
		MedicalTopics:        []string{},
		Summary:              "No conversation recorded",
		SOAP: SOAPNote{
			Subjective: SOAPComponent{Content: "No patient information captured - no speech detected", Sources: []SourceReference{}},
			Objective:  SOAPComponent{Content: "Not documented - no conversation recorded", Sources: []SourceReference{}},
			Assessment: SOAPComponent{Content: "Cannot assess - no clinical conversation available", Sources: []SourceReference{}},
			Plan:       SOAPComponent{Content: "Unable to create plan - please record a conversation", Sources: []SourceReference{}},
		},
	}
}

// newDiagnosticErrorResult builds the structured result for a model
// response that could not be parsed after every fallback stage.
func newDiagnosticErrorResult(parseErr error, rawResponse string) *Result {
	result := newInsufficientDataResult(parseErr.Error())
	result.Error = "Analysis response could not be parsed"
	result.Summary = "Analysis produced an unreadable response"
	result.RawResponse = rawResponse
	return result
}
