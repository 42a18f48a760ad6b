package grok

import (
	"strings"
	"testing"
)

func TestNormalizeChatcmplID(t *testing.T) {
	tests := []struct {
		name  string
		rawID string
		want  string
	}{
		{"plain id", "abc123", "chatcmpl-abc123"},
		{"already prefixed", "chatcmpl-abc123", "chatcmpl-abc123"},
		{"whitespace trimmed", "  abc  ", "chatcmpl-abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeChatcmplID(tt.rawID); got != tt.want {
				t.Errorf("NormalizeChatcmplID(%q) = %q, want %q", tt.rawID, got, tt.want)
			}
		})
	}

	t.Run("empty generates random", func(t *testing.T) {
		got := NormalizeChatcmplID("")
		if !strings.HasPrefix(got, "chatcmpl-") || len(got) != len("chatcmpl-")+24 {
			t.Errorf("NormalizeChatcmplID(\"\") = %q, want chatcmpl- prefix with 24 hex chars", got)
		}
	})
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name          string
		model         string
		wantUpstream  string
		wantReasoning bool
	}{
		{"base model", "grok-4", "grok-4", false},
		{"reasoning suffix", "grok-3-reasoning", "grok-3", true},
		{"mini model", "grok-4-mini", "grok-4-mini", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream, reasoning := ResolveModel(tt.model)
			if upstream != tt.wantUpstream || reasoning != tt.wantReasoning {
				t.Errorf("ResolveModel(%q) = (%q, %v), want (%q, %v)", tt.model, upstream, reasoning, tt.wantUpstream, tt.wantReasoning)
			}
		})
	}
}

func TestAssetPath(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"relative path", "users/u1/img/i1/content", AssetURL + "/users/u1/img/i1/content"},
		{"absolute path", "/users/u1/img/i1/content", AssetURL + "/users/u1/img/i1/content"},
		{"full url rewritten", "https://assets.grok.com/users/u1/img/i1/content", AssetURL + "/users/u1/img/i1/content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssetPath(tt.raw); got != tt.want {
				t.Errorf("AssetPath(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestIsValidGeneratedURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", false},
		{"/", false},
		{"https://assets.grok.com/", false},
		{"https://assets.grok.com/users/u1/img/i1/content", true},
		{"users/u1/img/i1/content", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := IsValidGeneratedURL(tt.url); got != tt.want {
				t.Errorf("IsValidGeneratedURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestExtractImageID(t *testing.T) {
	got := ExtractImageID("https://assets.grok.com/users/u1/generated/img-42/content")
	if got != "img-42" {
		t.Errorf("ExtractImageID = %q, want img-42", got)
	}
	if got := ExtractImageID("content"); got != "image" {
		t.Errorf("ExtractImageID fallback = %q, want image", got)
	}
}

func TestStreamTagFilter(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   string
	}{
		{
			name:   "tag within one token",
			tokens: []string{"a<grok:render type=\"card\">hidden</grok:render>b"},
			want:   "ab",
		},
		{
			name:   "tag across tokens",
			tokens: []string{"a<grok:ren", "der>hidden</grok:re", "nder>b"},
			want:   "ab",
		},
		{
			name:   "self closing tag",
			tokens: []string{"a<xaiartifact id=\"1\"/>b"},
			want:   "ab",
		},
		{
			name:   "unrelated angle brackets kept",
			tokens: []string{"1 < 2 and <b>bold</b>"},
			want:   "1 < 2 and <b>bold</b>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewStreamTagFilter(DefaultFilterTags)
			var out strings.Builder
			for _, token := range tt.tokens {
				out.WriteString(f.Filter(token))
			}
			if out.String() != tt.want {
				t.Errorf("filtered = %q, want %q", out.String(), tt.want)
			}
		})
	}

	t.Run("no tags is identity", func(t *testing.T) {
		f := NewStreamTagFilter(nil)
		in := "a<grok:render>keep</grok:render>b"
		if got := f.Filter(in); got != in {
			t.Errorf("Filter = %q, want input unchanged", got)
		}
	})
}

func TestFilterContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "paired tag",
			content: "a<grok:render type=\"x\">hidden</grok:render>b",
			want:    "ab",
		},
		{
			name:    "self closing",
			content: "a<xaiartifact id=\"1\" />b",
			want:    "ab",
		},
		{
			name:    "spans newlines",
			content: "a<xai:tool_usage_card>line1\nline2</xai:tool_usage_card>b",
			want:    "ab",
		},
		{
			name:    "no tags",
			content: "plain",
			want:    "plain",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterContent(tt.content, DefaultFilterTags); got != tt.want {
				t.Errorf("FilterContent = %q, want %q", got, tt.want)
			}
		})
	}
}
