package responses

import (
	"context"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func runStream(t *testing.T, lines []string) []string {
	t.Helper()
	var param any
	var out []string
	for _, line := range lines {
		out = append(out, ConvertGrokResponseToOpenAIResponses(context.Background(), "grok-4", nil, nil, []byte(line), &param)...)
	}
	return out
}

// eventParts splits an emitted SSE event into its type and data payload.
func eventParts(t *testing.T, event string) (string, gjson.Result) {
	t.Helper()
	lines := strings.Split(strings.TrimRight(event, "\n"), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "event: ") || !strings.HasPrefix(lines[1], "data: ") {
		t.Fatalf("malformed SSE event: %q", event)
	}
	return strings.TrimPrefix(lines[0], "event: "), gjson.Parse(strings.TrimPrefix(lines[1], "data: "))
}

func TestConvertOpenAIResponsesRequestToGrok(t *testing.T) {
	tests := []struct {
		name        string
		model       string
		body        string
		wantMessage string
		wantModel   string
		wantReason  bool
	}{
		{
			name:        "string input",
			model:       "grok-4",
			body:        `{"model":"grok-4","input":"hi"}`,
			wantMessage: "Human: hi",
			wantModel:   "grok-4",
		},
		{
			name:        "instructions and items",
			model:       "grok-4",
			body:        `{"instructions":"be brief","input":[{"type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]},{"type":"message","role":"assistant","content":[{"type":"output_text","text":"hello"}]}]}`,
			wantMessage: "System: be brief\n\nHuman: hi\n\nAssistant: hello",
			wantModel:   "grok-4",
		},
		{
			name:        "reasoning effort",
			model:       "grok-4",
			body:        `{"input":"hi","reasoning":{"effort":"high"}}`,
			wantMessage: "Human: hi",
			wantModel:   "grok-4",
			wantReason:  true,
		},
		{
			name:        "reasoning model suffix",
			model:       "grok-3-reasoning",
			body:        `{"input":"hi"}`,
			wantMessage: "Human: hi",
			wantModel:   "grok-3",
			wantReason:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := gjson.ParseBytes(ConvertOpenAIResponsesRequestToGrok(tt.model, []byte(tt.body), true))
			if got := root.Get("message").String(); got != tt.wantMessage {
				t.Errorf("message = %q, want %q", got, tt.wantMessage)
			}
			if got := root.Get("modelName").String(); got != tt.wantModel {
				t.Errorf("modelName = %q, want %q", got, tt.wantModel)
			}
			if got := root.Get("isReasoning").Bool(); got != tt.wantReason {
				t.Errorf("isReasoning = %v, want %v", got, tt.wantReason)
			}
		})
	}
}

func TestConvertGrokResponseToOpenAIResponsesEventSequence(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"token":"pondering","isThinking":true}}}`,
		`{"result":{"response":{"token":"Hello"}}}`,
		`{"result":{"response":{"token":" world"}}}`,
		`[DONE]`,
	}
	events := runStream(t, lines)

	var types []string
	lastSeq := int64(-1)
	for _, event := range events {
		eventType, data := eventParts(t, event)
		types = append(types, eventType)

		seq := data.Get("sequence_number").Int()
		if seq <= lastSeq {
			t.Errorf("sequence_number %d after %d, want strictly increasing", seq, lastSeq)
		}
		lastSeq = seq
	}

	// The reasoning item's output_item.done is deferred to stream end so
	// reasoning that resumes later can attach to the same item.
	want := []string{
		"response.created",
		"response.output_item.added",
		"response.reasoning_summary_text.delta",
		"response.reasoning_summary_text.done",
		"response.output_item.added",
		"response.content_part.added",
		"response.output_text.delta",
		"response.output_text.delta",
		"response.output_item.done",
		"response.output_text.done",
		"response.content_part.done",
		"response.output_item.done",
		"response.completed",
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (all: %v)", i, types[i], want[i], types)
		}
	}
}

func TestConvertGrokResponseToOpenAIResponsesCompleted(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"token":"why","isThinking":true}}}`,
		`{"result":{"response":{"token":"because"}}}`,
		`[DONE]`,
	}
	events := runStream(t, lines)

	eventType, data := eventParts(t, events[len(events)-1])
	if eventType != "response.completed" {
		t.Fatalf("last event = %s, want response.completed", eventType)
	}

	resp := data.Get("response")
	if got := resp.Get("status").String(); got != "completed" {
		t.Errorf("status = %q, want completed", got)
	}
	if got := resp.Get("output_text").String(); got != "because" {
		t.Errorf("output_text = %q, want because", got)
	}
	output := resp.Get("output").Array()
	if len(output) != 2 {
		t.Fatalf("output items = %d, want 2 (reasoning, message)", len(output))
	}
	if got := output[0].Get("type").String(); got != "reasoning" {
		t.Errorf("output.0.type = %q, want reasoning", got)
	}
	if got := output[0].Get("summary.0.text").String(); got != "why" {
		t.Errorf("reasoning summary = %q, want why", got)
	}
	if got := output[1].Get("type").String(); got != "message" {
		t.Errorf("output.1.type = %q, want message", got)
	}
	if got := output[1].Get("content.0.text").String(); got != "because" {
		t.Errorf("message text = %q, want because", got)
	}
	if got := resp.Get("usage.total_tokens").Int(); got != 0 {
		t.Errorf("usage.total_tokens = %d, want 0", got)
	}
}

func TestConvertGrokResponseToOpenAIResponsesAnswerOnly(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"token":"hi"}}}`,
		`[DONE]`,
	}
	events := runStream(t, lines)

	for _, event := range events {
		eventType, data := eventParts(t, event)
		if eventType == "response.output_item.added" {
			if got := data.Get("item.type").String(); got != "message" {
				t.Errorf("item.type = %q, want message only", got)
			}
			if got := data.Get("output_index").Int(); got != 0 {
				t.Errorf("output_index = %d, want 0", got)
			}
		}
	}

	_, data := eventParts(t, events[len(events)-1])
	if got := len(data.Get("response.output").Array()); got != 1 {
		t.Errorf("output items = %d, want 1", got)
	}
}

func TestConvertGrokResponseToOpenAIResponsesLateReasoning(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"token":"A<think>B</think>C<think>D</think>E"}}}`,
		`[DONE]`,
	}
	events := runStream(t, lines)

	var answer, reasoning strings.Builder
	reasoningAdds := 0
	summaryIndexes := make(map[int64]string)
	for _, event := range events {
		eventType, data := eventParts(t, event)
		switch eventType {
		case "response.output_text.delta":
			answer.WriteString(data.Get("delta").String())
		case "response.reasoning_summary_text.delta":
			reasoning.WriteString(data.Get("delta").String())
			idx := data.Get("summary_index").Int()
			summaryIndexes[idx] += data.Get("delta").String()
		case "response.output_item.added":
			if data.Get("item.type").String() == "reasoning" {
				reasoningAdds++
			}
		}
	}

	if got := answer.String(); got != "ACE" {
		t.Errorf("answer deltas = %q, want ACE", got)
	}
	if got := reasoning.String(); got != "BD" {
		t.Errorf("reasoning deltas = %q, want BD", got)
	}
	if reasoningAdds != 1 {
		t.Errorf("reasoning output_item.added emitted %d times, want 1", reasoningAdds)
	}
	if summaryIndexes[0] != "B" || summaryIndexes[1] != "D" {
		t.Errorf("summary entries = %v, want {0:B 1:D}", summaryIndexes)
	}

	_, data := eventParts(t, events[len(events)-1])
	summaries := data.Get("response.output.0.summary").Array()
	if len(summaries) != 2 {
		t.Fatalf("completed reasoning summaries = %d, want 2", len(summaries))
	}
	if got := summaries[0].Get("text").String(); got != "B" {
		t.Errorf("summary 0 = %q, want B", got)
	}
	if got := summaries[1].Get("text").String(); got != "D" {
		t.Errorf("summary 1 = %q, want D", got)
	}
	if got := data.Get("response.output_text").String(); got != "ACE" {
		t.Errorf("output_text = %q, want ACE", got)
	}
}

func TestConvertGrokResponseToOpenAIResponsesLateProgressNarration(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"token":"Here is the image."}}}`,
		`{"result":{"response":{"streamingImageGenerationResponse":{"imageIndex":0,"progress":50}}}}`,
		`[DONE]`,
	}
	events := runStream(t, lines)

	var reasoning strings.Builder
	for _, event := range events {
		eventType, data := eventParts(t, event)
		if eventType == "response.reasoning_summary_text.delta" {
			reasoning.WriteString(data.Get("delta").String())
		}
	}
	if got := reasoning.String(); got != "Generating image 1, progress 50%\n" {
		t.Errorf("progress narration = %q, want generation progress line", got)
	}
}

func TestConvertGrokResponseToOpenAIResponsesReplayedToken(t *testing.T) {
	lines := []string{
		`{"result":{"response":{"token":"The final answer text."}}}`,
		`{"result":{"response":{"token":"The final answer text."}}}`,
		`[DONE]`,
	}
	events := runStream(t, lines)

	var answer strings.Builder
	for _, event := range events {
		eventType, data := eventParts(t, event)
		if eventType == "response.output_text.delta" {
			answer.WriteString(data.Get("delta").String())
		}
	}
	if got := answer.String(); got != "The final answer text." {
		t.Errorf("answer deltas = %q, replayed token was not deduplicated", got)
	}
}

func TestConvertGrokResponseToOpenAIResponsesTerminalOnce(t *testing.T) {
	var param any
	ctx := context.Background()
	first := ConvertGrokResponseToOpenAIResponses(ctx, "grok-4", nil, nil, []byte("[DONE]"), &param)
	if len(first) == 0 {
		t.Fatal("first [DONE] produced no events")
	}
	second := ConvertGrokResponseToOpenAIResponses(ctx, "grok-4", nil, nil, []byte("[DONE]"), &param)
	if len(second) != 0 {
		t.Errorf("second [DONE] produced %d events, want 0", len(second))
	}
}

func TestConvertGrokResponseToOpenAIResponsesNonStream(t *testing.T) {
	body := `{"result":{"response":{"modelResponse":{"message":"a<think>b</think>c"}}}}`

	var param any
	out := ConvertGrokResponseToOpenAIResponsesNonStream(context.Background(), "grok-4", nil, nil, []byte(body), &param)
	root := gjson.Parse(out)

	if got := root.Get("object").String(); got != "response" {
		t.Errorf("object = %q, want response", got)
	}
	if got := root.Get("status").String(); got != "completed" {
		t.Errorf("status = %q, want completed", got)
	}
	output := root.Get("output").Array()
	if len(output) != 2 {
		t.Fatalf("output items = %d, want 2", len(output))
	}
	if got := output[0].Get("summary.0.text").String(); got != "b" {
		t.Errorf("reasoning = %q, want b", got)
	}
	if got := output[1].Get("content.0.text").String(); got != "ac" {
		t.Errorf("answer = %q, want ac", got)
	}
	if got := root.Get("output_text").String(); got != "ac" {
		t.Errorf("output_text = %q, want ac", got)
	}
}
