// Package thinktag separates model output into answer and reasoning content
// based on a literal open/close tag pair. The streaming parser classifies text
// incrementally and tolerates tags split across arbitrary chunk boundaries;
// the buffered splitter handles a complete response body in one call.
package thinktag

import "strings"

const (
	// OpenTag marks the start of reasoning content in provider output.
	OpenTag = "<think>"
	// CloseTag marks the end of reasoning content in provider output.
	CloseTag = "</think>"
)

// Segment is a classified run of text produced by the parser.
// Segments are emitted in the order the text was fed and never empty.
type Segment struct {
	Reasoning bool
	Text      string
}

// Parser is a forward-only automaton that classifies streamed text as answer
// or reasoning content. Tags are matched literally and case-sensitively, with
// no nesting. A bounded pending buffer (at most one byte shorter than the
// active tag) carries a candidate partial tag between calls so that tags
// straddling chunk boundaries are still recognized.
type Parser struct {
	openTag  string
	closeTag string
	pending  []byte
	inside   bool
}

// NewParser returns a parser for the default <think></think> tag pair.
func NewParser() *Parser {
	return NewParserWithTags(OpenTag, CloseTag)
}

// NewParserWithTags returns a parser for a custom tag pair.
func NewParserWithTags(open, close string) *Parser {
	return &Parser{openTag: open, closeTag: close}
}

// activeTag is the tag that would flip the current mode.
func (p *Parser) activeTag() string {
	if p.inside {
		return p.closeTag
	}
	return p.openTag
}

// Feed scans the concatenation of the pending buffer and text, emitting
// classified segments for everything that can no longer be part of a tag.
// A recognized tag is consumed and flips the mode without being emitted.
func (p *Parser) Feed(text string) []Segment {
	if text == "" {
		return nil
	}

	buf := append(p.pending, text...)
	p.pending = nil

	var segments []Segment
	start := 0
	for {
		tag := p.activeTag()
		idx := strings.Index(string(buf[start:]), tag)
		if idx < 0 {
			break
		}
		if idx > 0 {
			segments = append(segments, Segment{Reasoning: p.inside, Text: string(buf[start : start+idx])})
		}
		start += idx + len(tag)
		p.inside = !p.inside
	}

	// Retain the longest remainder suffix that is still a proper prefix of
	// the active tag; everything before it is safe to emit now.
	rest := buf[start:]
	keep := partialTagSuffix(rest, p.activeTag())
	if cut := len(rest) - keep; cut > 0 {
		segments = append(segments, Segment{Reasoning: p.inside, Text: string(rest[:cut])})
	}
	if keep > 0 {
		p.pending = append(p.pending, rest[len(rest)-keep:]...)
	}
	return segments
}

// Flush emits any residual pending buffer as a segment of the current mode.
// An unterminated open tag stays committed: the parser never reclassifies
// text after the fact, so a dangling tag leaves its residue as reasoning.
func (p *Parser) Flush() []Segment {
	if len(p.pending) == 0 {
		return nil
	}
	seg := Segment{Reasoning: p.inside, Text: string(p.pending)}
	p.pending = nil
	return []Segment{seg}
}

// partialTagSuffix returns the length of the longest suffix of b that is a
// proper prefix of tag, i.e. the part that may still grow into a full tag.
func partialTagSuffix(b []byte, tag string) int {
	max := len(tag) - 1
	if len(b) < max {
		max = len(b)
	}
	for k := max; k > 0; k-- {
		if string(b[len(b)-k:]) == tag[:k] {
			return k
		}
	}
	return 0
}
