// Package grok provides shared helpers for translating between the Grok
// conversational backend format and the client-facing API formats: response
// identifier normalization, generated-asset URL handling, upstream markup
// filtering, and model name resolution.
package grok

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// AssetURL is the base URL generated assets are served from.
const AssetURL = "https://assets.grok.com"

// DefaultFilterTags are upstream markup tags stripped from answer content.
var DefaultFilterTags = []string{"grok:render", "xaiartifact", "xai:tool_usage_card"}

// NormalizeChatcmplID maps an upstream response identifier to a stable
// chatcmpl-prefixed identifier. A missing identifier gets a random one.
func NormalizeChatcmplID(rawID string) string {
	rid := strings.TrimSpace(rawID)
	if rid == "" {
		hex := strings.ReplaceAll(uuid.New().String(), "-", "")
		return "chatcmpl-" + hex[:24]
	}
	if strings.HasPrefix(rid, "chatcmpl-") {
		return rid
	}
	return "chatcmpl-" + rid
}

// ResolveModel maps a public model name to the upstream model name and the
// reasoning flag. The "-reasoning" suffix selects reasoning mode on the base
// model.
func ResolveModel(name string) (upstream string, reasoning bool) {
	if strings.HasSuffix(name, "-reasoning") {
		return strings.TrimSuffix(name, "-reasoning"), true
	}
	return name, false
}

// IsValidGeneratedURL reports whether an upstream generated-asset URL points
// at an actual asset path.
func IsValidGeneratedURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "/" {
		return false
	}
	if strings.HasPrefix(raw, "http") {
		u, err := url.Parse(raw)
		if err != nil {
			return false
		}
		return u.Path != "" && u.Path != "/"
	}
	return true
}

// AssetPath resolves an upstream asset reference to an absolute asset URL.
func AssetPath(raw string) string {
	path := strings.TrimSpace(raw)
	if strings.HasPrefix(path, "http") {
		if u, err := url.Parse(path); err == nil {
			path = u.Path
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return AssetURL + path
}

// ExtractImageID derives a short identifier from a generated-asset URL,
// the second-to-last path element by upstream convention.
func ExtractImageID(raw string) string {
	path := strings.TrimSpace(raw)
	if strings.HasPrefix(path, "http") {
		if u, err := url.Parse(path); err == nil {
			path = u.Path
		}
	}
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return "image"
}

// StreamTagFilter strips configured markup tags from streamed tokens,
// including tags that span token boundaries. State carries across calls.
type StreamTagFilter struct {
	tags   []string
	buffer strings.Builder
	inside bool
}

// NewStreamTagFilter returns a filter for the given tag names. An empty tag
// list makes Filter the identity function.
func NewStreamTagFilter(tags []string) *StreamTagFilter {
	return &StreamTagFilter{tags: tags}
}

// Filter removes filtered-tag regions from token, buffering partial tags
// until they can be classified.
func (f *StreamTagFilter) Filter(token string) string {
	if len(f.tags) == 0 {
		return token
	}

	var out strings.Builder
	for i := 0; i < len(token); i++ {
		ch := token[i]

		if f.inside {
			f.buffer.WriteByte(ch)
			if ch == '>' {
				buf := f.buffer.String()
				if strings.Contains(buf, "/>") {
					f.inside = false
					f.buffer.Reset()
				} else {
					for _, tag := range f.tags {
						if strings.Contains(buf, "</"+tag+">") {
							f.inside = false
							f.buffer.Reset()
							break
						}
					}
				}
			}
			continue
		}

		if ch == '<' && f.tagStarts(token[i:]) {
			f.inside = true
			f.buffer.Reset()
			f.buffer.WriteByte(ch)
			continue
		}

		out.WriteByte(ch)
	}
	return out.String()
}

// tagStarts reports whether remaining begins a filtered tag, or is a prefix
// of one that may complete in a later token.
func (f *StreamTagFilter) tagStarts(remaining string) bool {
	for _, tag := range f.tags {
		open := "<" + tag
		if strings.HasPrefix(remaining, open) {
			return true
		}
		if len(remaining) < len(open) && strings.HasPrefix(open, remaining) {
			return true
		}
	}
	return false
}

// replayTailLimit bounds the emitted-text tail kept for replay detection.
const replayTailLimit = 8192

// ReplayGuard detects whole-token replays from the upstream, which would
// otherwise duplicate the tail of the answer. State carries across calls.
type ReplayGuard struct {
	tail string
}

// IsReplay reports whether token repeats the tail of already emitted text.
// Short tokens are never treated as replays.
func (g *ReplayGuard) IsReplay(token string) bool {
	if token == "" || g.tail == "" {
		return false
	}
	normalized := strings.TrimRight(token, "\r\n")
	if len(normalized) < 12 {
		return false
	}
	return strings.HasSuffix(strings.TrimRight(g.tail, "\r\n"), normalized)
}

// Record appends emitted text to the replay tail.
func (g *ReplayGuard) Record(text string) {
	if text == "" {
		return
	}
	g.tail += text
	if len(g.tail) > replayTailLimit {
		g.tail = g.tail[len(g.tail)-replayTailLimit:]
	}
}

// FilterContent removes every filtered-tag region from a complete response
// body, matching both paired and self-closing forms across newlines.
func FilterContent(content string, tags []string) string {
	if content == "" || len(tags) == 0 {
		return content
	}
	for _, tag := range tags {
		q := regexp.QuoteMeta(tag)
		re := regexp.MustCompile(`(?s)<` + q + `[^>]*>.*?</` + q + `>|<` + q + `[^>]*/>`)
		content = re.ReplaceAllString(content, "")
	}
	return content
}
