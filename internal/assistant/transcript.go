package assistant

import (
	"slices"
	"strings"

	"github.com/MrWong99/raisehand/pkg/provider/live"
)

// Speaker identifies who produced a [TranscriptEntry].
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// WebSource is a citation shown under an assistant answer. Title may be empty.
type WebSource struct {
	URI   string
	Title string
}

// TranscriptEntry is one completed utterance. Entries are only ever appended.
type TranscriptEntry struct {
	Speaker Speaker
	Text    string
	Sources []WebSource
}

// pendingTurn accumulates fragments until the turn-complete marker.
type pendingTurn struct {
	input  strings.Builder
	output strings.Builder
	cites  []WebSource
}

func (p *pendingTurn) addSources(src []live.WebSource) {
	for _, s := range src {
		p.cites = append(p.cites, WebSource{URI: s.URI, Title: s.Title})
	}
}

// flush returns the entries produced by the turn, in user-then-assistant
// order, and resets p.
func (p *pendingTurn) flush() []TranscriptEntry {
	var out []TranscriptEntry
	if in := p.input.String(); in != "" {
		out = append(out, TranscriptEntry{Speaker: SpeakerUser, Text: in})
	}
	if text := p.output.String(); text != "" {
		out = append(out, TranscriptEntry{
			Speaker: SpeakerAssistant,
			Text:    text,
			Sources: dedupSources(p.cites),
		})
	}
	p.reset()
	return out
}

func (p *pendingTurn) reset() {
	p.input.Reset()
	p.output.Reset()
	p.cites = nil
}

// dedupSources keeps the first occurrence of every URI, preserving order.
func dedupSources(src []WebSource) []WebSource {
	if len(src) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(src))
	out := make([]WebSource, 0, len(src))
	for _, s := range src {
		if _, dup := seen[s.URI]; dup {
			continue
		}
		seen[s.URI] = struct{}{}
		out = append(out, s)
	}
	return out
}

// cloneEntries deep-copies entries so callers cannot alias session state.
func cloneEntries(entries []TranscriptEntry) []TranscriptEntry {
	out := make([]TranscriptEntry, len(entries))
	for i, e := range entries {
		e.Sources = slices.Clone(e.Sources)
		out[i] = e
	}
	return out
}
