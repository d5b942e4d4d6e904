package analysis

import (
	"fmt"
	"strings"
)

const basicPromptTemplate = `Please analyze this doctor-patient conversation transcript and provide both a structured analysis AND a clinical SOAP note:

TRANSCRIPT:
%s

Format your response as JSON with this structure:
{
    "speaker_analysis": {
        "doctor_segments": ["segment1", "segment2"],
        "patient_segments": ["segment1", "segment2"],
        "doctor_percentage": 60,
        "patient_percentage": 40
    },
    "conversation_segments": [
        {
            "type": "greeting",
            "content": "Hello, how are you feeling today?",
            "speaker": "doctor"
        }
    ],
    "medical_topics": ["symptom1", "symptom2", "diagnosis"],
    "summary": "Brief summary of the consultation",
    "soap_note": {
        "subjective": "Patient's reported symptoms, concerns, and history",
        "objective": "Observable findings, physical examination results",
        "assessment": "Clinical impression, primary diagnosis",
        "plan": "Treatment plan including medications, tests, follow-up"
    }
}`

const sourcedPromptTemplate = `You are a medical AI assistant analyzing a doctor-patient conversation.

TRANSCRIPT (with segment numbers for reference):
%s

Every cited claim must name its supporting segment ids. Respond with VALID JSON in this exact structure:
{
    "speaker_analysis": {
        "doctor_segments": ["segment1", "segment2"],
        "patient_segments": ["segment1", "segment2"],
        "doctor_percentage": 60,
        "patient_percentage": 40
    },
    "conversation_segments": [
        {
            "type": "greeting",
            "content": "Hello, how are you feeling today?",
            "speaker": "doctor"
        }
    ],
    "medical_topics": ["symptom1", "symptom2", "diagnosis"],
    "summary": "Brief summary of the consultation",
    "soap_note_with_sources": {
        "subjective": {
            "content": "Patient reports symptoms",
            "sources": [
                {
                    "segment_ids": [3, 5],
                    "excerpt": "I have chest pain",
                    "reasoning": "Patient describing chief complaint"
                }
            ],
            "confidence": 85
        },
        "objective": {
            "content": "Physical examination findings",
            "sources": [],
            "confidence": 80
        },
        "assessment": {
            "content": "Clinical diagnosis",
            "sources": [],
            "confidence": 75
        },
        "plan": {
            "content": "Treatment plan",
            "sources": [],
            "confidence": 90
        }
    },
    "analysis_metadata": {
        "total_segments": %d,
        "overall_confidence": 85
    }
}`

// buildBasicPrompt renders the basic analysis prompt for a transcript.
func buildBasicPrompt(transcript string) string {
	return fmt.Sprintf(basicPromptTemplate, transcript)
}

// buildSourcedPrompt renders the sourced analysis prompt over the numbered
// segment decomposition of the transcript.
func buildSourcedPrompt(segments []TranscriptSegment) string {
	var sb strings.Builder
	for _, segment := range segments {
		fmt.Fprintf(&sb, "[%d] %s\n", segment.ID, segment.Text)
	}
	return fmt.Sprintf(sourcedPromptTemplate, sb.String(), len(segments))
}
