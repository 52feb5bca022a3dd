// Package transcript turns word-level transcript data into sentences.
package transcript

import (
	"strings"

	"github.com/notetaker/backend/internal/recall"
)

// PauseThreshold is the gap, in seconds, between two words that closes a sentence.
const PauseThreshold = 1.5

// minSentenceLen is the trimmed length a fragment must exceed to be kept when a pause closes it,
// unless it ends with a period.
const minSentenceLen = 3

// ExtractSentences splits each participant's words into sentences at pauses longer than
// PauseThreshold. Participants are processed independently and in order; sentences are not
// interleaved across speakers by time.
func ExtractSentences(participants []recall.Participant) []string {
	sentences := make([]string, 0)
	for _, p := range participants {
		sentences = append(sentences, participantSentences(p.Words)...)
	}
	return sentences
}

func participantSentences(words []recall.Word) []string {
	var (
		out     []string
		buf     strings.Builder
		lastEnd float64
	)
	for i, w := range words {
		start := relative(w.StartTimestamp, 0)
		if i > 0 && start-lastEnd > PauseThreshold && strings.TrimSpace(buf.String()) != "" {
			if s := strings.TrimSpace(buf.String()); keepFragment(s) {
				out = append(out, s)
			}
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(w.Text)
		lastEnd = relative(w.EndTimestamp, start)
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func keepFragment(s string) bool {
	return len(s) > minSentenceLen || strings.HasSuffix(s, ".")
}

func relative(ts *recall.Timestamp, fallback float64) float64 {
	if ts == nil {
		return fallback
	}
	return ts.Relative
}
