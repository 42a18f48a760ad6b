package chat_completions

import (
	"context"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func runStream(t *testing.T, ctx context.Context, lines []string) []string {
	t.Helper()
	var param any
	var out []string
	for _, line := range lines {
		out = append(out, ConvertGrokResponseToOpenAI(ctx, "grok-4", nil, nil, []byte(line), &param)...)
	}
	return out
}

func deltaText(chunks []string, path string) string {
	var sb strings.Builder
	for _, chunk := range chunks {
		sb.WriteString(gjson.Get(chunk, path).String())
	}
	return sb.String()
}

func TestConvertOpenAIRequestToGrok(t *testing.T) {
	body := `{"model":"grok-4","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"},{"role":"assistant","content":[{"type":"text","text":"hello"}]},{"role":"user","content":"bye"}]}`

	out := ConvertOpenAIRequestToGrok("grok-4", []byte(body), true)
	root := gjson.ParseBytes(out)

	if got := root.Get("modelName").String(); got != "grok-4" {
		t.Errorf("modelName = %q, want grok-4", got)
	}
	if root.Get("isReasoning").Bool() {
		t.Error("isReasoning = true, want false")
	}
	want := "System: be brief\n\nHuman: hi\n\nAssistant: hello\n\nHuman: bye"
	if got := root.Get("message").String(); got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
	if !root.Get("temporary").Bool() {
		t.Error("temporary = false, want true")
	}
}

func TestConvertOpenAIRequestToGrokReasoning(t *testing.T) {
	tests := []struct {
		name          string
		model         string
		body          string
		wantModel     string
		wantReasoning bool
	}{
		{"reasoning suffix", "grok-3-reasoning", `{"messages":[]}`, "grok-3", true},
		{"reasoning effort", "grok-4", `{"messages":[],"reasoning_effort":"high"}`, "grok-4", true},
		{"effort none", "grok-4", `{"messages":[],"reasoning_effort":"none"}`, "grok-4", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := gjson.ParseBytes(ConvertOpenAIRequestToGrok(tt.model, []byte(tt.body), false))
			if got := root.Get("modelName").String(); got != tt.wantModel {
				t.Errorf("modelName = %q, want %q", got, tt.wantModel)
			}
			if got := root.Get("isReasoning").Bool(); got != tt.wantReasoning {
				t.Errorf("isReasoning = %v, want %v", got, tt.wantReasoning)
			}
		})
	}
}

func TestConvertGrokResponseToOpenAIStream(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"responseId":"abc123","token":"Hello ","isThinking":false}}}`,
		`{"result":{"response":{"token":"world","isThinking":false}}}`,
		`[DONE]`,
	}
	chunks := runStream(t, context.Background(), lines)

	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4 (role, two contents, finish)", len(chunks))
	}
	if gjson.Get(chunks[0], "choices.0.delta.role").String() != "assistant" {
		t.Errorf("first chunk missing role preamble: %s", chunks[0])
	}
	if got := deltaText(chunks, "choices.0.delta.content"); got != "Hello world" {
		t.Errorf("content = %q, want %q", got, "Hello world")
	}
	last := chunks[len(chunks)-1]
	if gjson.Get(last, "choices.0.finish_reason").String() != "stop" {
		t.Errorf("last chunk finish_reason = %s, want stop", last)
	}
	for i, chunk := range chunks {
		if got := gjson.Get(chunk, "id").String(); got != "chatcmpl-abc123" {
			t.Errorf("chunk %d id = %q, want chatcmpl-abc123", i, got)
		}
		if got := gjson.Get(chunk, "object").String(); got != "chat.completion.chunk" {
			t.Errorf("chunk %d object = %q", i, got)
		}
	}
}

func TestConvertGrokResponseToOpenAIReasoningFlag(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"token":"pondering","isThinking":true}}}`,
		`{"result":{"response":{"token":"answer","isThinking":false}}}`,
		`[DONE]`,
	}
	chunks := runStream(t, context.Background(), lines)

	if got := deltaText(chunks, "choices.0.delta.reasoning_content"); got != "pondering" {
		t.Errorf("reasoning = %q, want pondering", got)
	}
	if got := deltaText(chunks, "choices.0.delta.content"); got != "answer" {
		t.Errorf("content = %q, want answer", got)
	}
}

func TestConvertGrokResponseToOpenAIThinkTags(t *testing.T) {
	// Tag markers arrive split across token boundaries inside answer text.
	lines := []string{
		`{"result":{"response":{"token":"Hello "}}}`,
		`{"result":{"response":{"token":"<thi"}}}`,
		`{"result":{"response":{"token":"nk>thinking"}}}`,
		`{"result":{"response":{"token":"</think> world"}}}`,
		`[DONE]`,
	}
	chunks := runStream(t, context.Background(), lines)

	if got := deltaText(chunks, "choices.0.delta.content"); got != "Hello  world" {
		t.Errorf("content = %q, want %q", got, "Hello  world")
	}
	if got := deltaText(chunks, "choices.0.delta.reasoning_content"); got != "thinking" {
		t.Errorf("reasoning = %q, want thinking", got)
	}
}

func TestConvertGrokResponseToOpenAIDanglingThink(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"token":"before<think>after"}}}`,
		`[DONE]`,
	}
	chunks := runStream(t, context.Background(), lines)

	if got := deltaText(chunks, "choices.0.delta.content"); got != "before" {
		t.Errorf("content = %q, want before", got)
	}
	if got := deltaText(chunks, "choices.0.delta.reasoning_content"); got != "after" {
		t.Errorf("reasoning = %q, want after", got)
	}
}

func TestConvertGrokResponseToOpenAITerminalOnce(t *testing.T) {
	var param any
	ctx := context.Background()
	first := ConvertGrokResponseToOpenAI(ctx, "grok-4", nil, nil, []byte("[DONE]"), &param)
	if len(first) == 0 {
		t.Fatal("first [DONE] produced no frames")
	}
	finishes := 0
	for _, chunk := range first {
		if gjson.Get(chunk, "choices.0.finish_reason").String() == "stop" {
			finishes++
		}
	}
	if finishes != 1 {
		t.Errorf("finish frames = %d, want 1", finishes)
	}

	second := ConvertGrokResponseToOpenAI(ctx, "grok-4", nil, nil, []byte("[DONE]"), &param)
	if len(second) != 0 {
		t.Errorf("second [DONE] produced %d frames, want 0", len(second))
	}
}

func TestConvertGrokResponseToOpenAIImageProgress(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"streamingImageGenerationResponse":{"imageIndex":0,"progress":50}}}}`,
		`{"result":{"response":{"modelResponse":{"generatedImageUrls":["https://assets.grok.com/users/u1/generated/img-7/content"]}}}}`,
		`[DONE]`,
	}
	chunks := runStream(t, context.Background(), lines)

	reasoning := deltaText(chunks, "choices.0.delta.reasoning_content")
	if !strings.Contains(reasoning, "Generating image 1, progress 50%") {
		t.Errorf("progress narration missing, reasoning = %q", reasoning)
	}
	content := deltaText(chunks, "choices.0.delta.content")
	if !strings.Contains(content, "![img-7](https://assets.grok.com/users/u1/generated/img-7/content)") {
		t.Errorf("image markdown missing, content = %q", content)
	}
}

func TestConvertGrokResponseToOpenAIMessageFallback(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"modelResponse":{"responseId":"xyz","message":"full answer"}}}}`,
		`[DONE]`,
	}
	chunks := runStream(t, context.Background(), lines)

	if got := deltaText(chunks, "choices.0.delta.content"); got != "full answer" {
		t.Errorf("content = %q, want full answer", got)
	}
}

func TestConvertGrokResponseToOpenAIReplayDedup(t *testing.T) {
	// The final aggregate message replays the streamed text and must not be
	// emitted a second time.
	lines := []string{
		`{"result":{"response":{"token":"a long streamed answer"}}}`,
		`{"result":{"response":{"modelResponse":{"message":"a long streamed answer"}}}}`,
		`[DONE]`,
	}
	chunks := runStream(t, context.Background(), lines)

	if got := deltaText(chunks, "choices.0.delta.content"); got != "a long streamed answer" {
		t.Errorf("content = %q, want single copy", got)
	}
}

func TestConvertGrokResponseToOpenAIThinkingDisabled(t *testing.T) {
	ctx := context.WithValue(context.Background(), "thinking", false)
	lines := []string{
		`{"result":{"response":{"token":"secret","isThinking":true}}}`,
		`{"result":{"response":{"token":"answer"}}}`,
		`[DONE]`,
	}
	chunks := runStream(t, ctx, lines)

	if got := deltaText(chunks, "choices.0.delta.reasoning_content"); got != "" {
		t.Errorf("reasoning = %q, want empty when thinking disabled", got)
	}
	if got := deltaText(chunks, "choices.0.delta.content"); got != "answer" {
		t.Errorf("content = %q, want answer", got)
	}
}

func TestConvertGrokResponseToOpenAINonStream(t *testing.T) {
	body := strings.Join([]string{
		`{"result":{"response":{"llmInfo":{"modelHash":"hash-1"}}}}`,
		`{"result":{"response":{"modelResponse":{"responseId":"resp-9","message":"a<think>b</think>c<grok:render type=\"card\">x</grok:render>"}}}}`,
	}, "\n")

	var param any
	out := ConvertGrokResponseToOpenAINonStream(context.Background(), "grok-4", nil, nil, []byte(body), &param)
	root := gjson.Parse(out)

	if got := root.Get("id").String(); got != "chatcmpl-resp-9" {
		t.Errorf("id = %q, want chatcmpl-resp-9", got)
	}
	if got := root.Get("object").String(); got != "chat.completion" {
		t.Errorf("object = %q", got)
	}
	if got := root.Get("system_fingerprint").String(); got != "hash-1" {
		t.Errorf("system_fingerprint = %q, want hash-1", got)
	}
	if got := root.Get("choices.0.message.content").String(); got != "ac" {
		t.Errorf("content = %q, want ac", got)
	}
	if got := root.Get("choices.0.message.reasoning_content").String(); got != "b" {
		t.Errorf("reasoning = %q, want b", got)
	}
	if !root.Get("choices.0.message.refusal").Exists() {
		t.Error("refusal field missing")
	}
	if got := root.Get("usage.total_tokens").Int(); got != 0 {
		t.Errorf("usage.total_tokens = %d, want 0", got)
	}
}

func TestConvertGrokResponseToOpenAINonStreamOmitsEmptyReasoning(t *testing.T) {
	body := `{"result":{"response":{"modelResponse":{"message":"plain"}}}}`

	var param any
	out := ConvertGrokResponseToOpenAINonStream(context.Background(), "grok-4", nil, nil, []byte(body), &param)
	root := gjson.Parse(out)

	if root.Get("choices.0.message.reasoning_content").Exists() {
		t.Error("reasoning_content present, want omitted when empty")
	}
	if got := root.Get("choices.0.message.content").String(); got != "plain" {
		t.Errorf("content = %q, want plain", got)
	}
}
