package analysis

import "strings"

// SegmentTranscript splits a transcript into numbered segments on ". "
// boundaries. IDs are 1-based and contiguous; offsets track the actual
// split position in the original string, so repeated sentence texts get
// distinct, correct offsets. Segment texts carry a trailing period even
// when the split consumed it.
func SegmentTranscript(transcript string) []TranscriptSegment {
	var segments []TranscriptSegment

	cursor := 0
	id := 1
	for _, sentence := range strings.Split(transcript, ". ") {
		start := cursor
		cursor += len(sentence) + len(". ")

		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			continue
		}
		if !strings.HasSuffix(trimmed, ".") {
			trimmed += "."
		}

		segments = append(segments, TranscriptSegment{
			ID:       id,
			Text:     trimmed,
			StartPos: start,
			EndPos:   start + len(sentence),
		})
		id++
	}

	return segments
}

// segmentIDSet returns the set of valid segment ids for validation.
func segmentIDSet(segments []TranscriptSegment) map[int]bool {
	ids := make(map[int]bool, len(segments))
	for _, segment := range segments {
		ids[segment.ID] = true
	}
	return ids
}
