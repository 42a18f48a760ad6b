package responses

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/grokproxy/GrokProxyAPI/internal/thinktag"
	"github.com/grokproxy/GrokProxyAPI/internal/translator/grok"
)

// ConvertGrokResponseToOpenAIResponsesParams holds the per-session state
// threaded through every call of a streaming translation.
type ConvertGrokResponseToOpenAIResponsesParams struct {
	ResponseID      string
	MsgItemID       string
	ReasoningItemID string
	CreatedAt       int64
	Sequence        int64
	Done            bool

	ShowThink bool
	Parser    *thinktag.Parser
	Filter    *grok.StreamTagFilter
	Replay    grok.ReplayGuard

	createdSent    bool
	reasoningAdded bool
	reasoningIndex int64
	summaryOpen    bool
	summaryIndex   int64
	summaryText    strings.Builder
	summaries      []string
	messageOpen    bool
	messageIndex   int64
	outputIndex    int64
	answerText     strings.Builder
	finalTokenSent bool
}

func newID(prefix string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "_" + hex[:24]
}

func newConvertGrokResponseToOpenAIResponsesParams(ctx context.Context) *ConvertGrokResponseToOpenAIResponsesParams {
	p := &ConvertGrokResponseToOpenAIResponsesParams{
		ResponseID:      newID("resp"),
		MsgItemID:       newID("msg"),
		ReasoningItemID: newID("rs"),
		CreatedAt:       time.Now().Unix(),
		ShowThink:       true,
		Parser:          thinktag.NewParser(),
	}
	if v, ok := ctx.Value("thinking").(bool); ok {
		p.ShowThink = v
	}
	var tags []string
	if v, ok := ctx.Value("filter-tags").([]string); ok {
		tags = v
	}
	p.Filter = grok.NewStreamTagFilter(tags)
	return p
}

// ConvertGrokResponseToOpenAIResponses converts one Grok NDJSON payload into
// zero or more typed response.* SSE events. Reasoning content becomes a
// reasoning output item with summary_text deltas, answer content an
// output_text message part; each output item is added at most once, and
// reasoning that resumes after answer content continues as further summary
// entries on the same reasoning item. Every event carries a strictly
// increasing sequence_number. The sentinel payload [DONE] closes open parts
// and emits response.completed, exactly once.
func ConvertGrokResponseToOpenAIResponses(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = newConvertGrokResponseToOpenAIResponsesParams(ctx)
	}
	p := (*param).(*ConvertGrokResponseToOpenAIResponsesParams)

	if bytes.Equal(rawJSON, []byte("[DONE]")) {
		return p.finish(modelName)
	}
	if p.Done {
		return []string{}
	}

	resp := gjson.ParseBytes(rawJSON).Get("result.response")
	if !resp.Exists() {
		return []string{}
	}

	var out []string
	out = append(out, p.ensureCreated(modelName)...)

	if img := resp.Get("streamingImageGenerationResponse"); img.Exists() {
		if p.ShowThink {
			idx := img.Get("imageIndex").Int() + 1
			progress := img.Get("progress").Int()
			out = append(out, p.reasoningDelta(fmt.Sprintf("Generating image %d, progress %d%%\n", idx, progress))...)
		}
		return out
	}

	if video := resp.Get("streamingVideoGenerationResponse"); video.Exists() {
		progress := video.Get("progress").Int()
		if p.ShowThink {
			out = append(out, p.reasoningDelta(fmt.Sprintf("Generating video, progress %d%%\n", progress))...)
		}
		if progress == 100 {
			if videoURL := video.Get("videoUrl").String(); videoURL != "" {
				out = append(out, p.answerDelta(grok.AssetPath(videoURL)+"\n")...)
				p.finalTokenSent = true
			}
		}
		return out
	}

	if mr := resp.Get("modelResponse"); mr.Exists() {
		return append(out, p.handleModelResponse(mr)...)
	}

	if token := resp.Get("token"); token.Exists() && token.String() != "" {
		out = append(out, p.handleToken(resp, token.String())...)
	}
	return out
}

func (p *ConvertGrokResponseToOpenAIResponsesParams) handleToken(resp gjson.Result, token string) []string {
	messageTag := strings.ToLower(resp.Get("messageTag").String())
	isReasoning := resp.Get("isThinking").Bool() || messageTag == "header" || messageTag == "summary"

	filtered := p.Filter.Filter(token)
	if filtered == "" {
		return nil
	}

	if isReasoning {
		if !p.ShowThink {
			return nil
		}
		return p.reasoningDelta(filtered)
	}

	if p.Replay.IsReplay(filtered) {
		log.Debugf("skip replayed token chunk: %.80s", filtered)
		return nil
	}

	out := p.emitSegments(p.Parser.Feed(filtered))
	p.Replay.Record(filtered)
	p.finalTokenSent = p.finalTokenSent || len(out) > 0
	return out
}

func (p *ConvertGrokResponseToOpenAIResponsesParams) handleModelResponse(mr gjson.Result) []string {
	var out []string

	emittedImages := 0
	mr.Get("generatedImageUrls").ForEach(func(_, u gjson.Result) bool {
		cleanURL := strings.TrimSpace(u.String())
		if !grok.IsValidGeneratedURL(cleanURL) {
			log.Warnf("skip invalid generated image url: %s", cleanURL)
			return true
		}
		imgID := grok.ExtractImageID(cleanURL)
		out = append(out, p.answerDelta(fmt.Sprintf("![%s](%s)\n", imgID, grok.AssetPath(cleanURL)))...)
		emittedImages++
		return true
	})
	if emittedImages > 0 {
		p.finalTokenSent = true
	}

	if !p.finalTokenSent && emittedImages == 0 {
		if msg := mr.Get("message").String(); msg != "" {
			filtered := p.Filter.Filter(msg)
			if filtered != "" && !p.Replay.IsReplay(filtered) {
				out = append(out, p.emitSegments(p.Parser.Feed(filtered))...)
				p.Replay.Record(filtered)
				p.finalTokenSent = true
			}
		}
	}
	return out
}

func (p *ConvertGrokResponseToOpenAIResponsesParams) emitSegments(segments []thinktag.Segment) []string {
	var out []string
	for _, seg := range segments {
		if seg.Reasoning {
			if p.ShowThink {
				out = append(out, p.reasoningDelta(seg.Text)...)
			}
			continue
		}
		out = append(out, p.answerDelta(seg.Text)...)
	}
	return out
}

// finish closes open parts in order and emits the terminal completed event.
func (p *ConvertGrokResponseToOpenAIResponsesParams) finish(modelName string) []string {
	if p.Done {
		return []string{}
	}
	p.Done = true

	var out []string
	out = append(out, p.ensureCreated(modelName)...)
	out = append(out, p.emitSegments(p.Parser.Flush())...)
	out = append(out, p.closeSummary()...)
	out = append(out, p.closeReasoningItem()...)

	if p.messageOpen {
		text := p.answerText.String()

		data := `{"type":"response.output_text.done","item_id":"","output_index":0,"content_index":0,"text":""}`
		data, _ = sjson.Set(data, "item_id", p.MsgItemID)
		data, _ = sjson.Set(data, "output_index", p.messageIndex)
		data, _ = sjson.Set(data, "text", text)
		out = append(out, p.event("response.output_text.done", data))

		data = `{"type":"response.content_part.done","item_id":"","output_index":0,"content_index":0,"part":{"type":"output_text","text":"","annotations":[]}}`
		data, _ = sjson.Set(data, "item_id", p.MsgItemID)
		data, _ = sjson.Set(data, "output_index", p.messageIndex)
		data, _ = sjson.Set(data, "part.text", text)
		out = append(out, p.event("response.content_part.done", data))

		data = `{"type":"response.output_item.done","output_index":0,"item":{}}`
		data, _ = sjson.Set(data, "output_index", p.messageIndex)
		data, _ = sjson.SetRaw(data, "item", p.messageItem("completed"))
		out = append(out, p.event("response.output_item.done", data))
	}

	out = append(out, p.completed(modelName))
	return out
}

func (p *ConvertGrokResponseToOpenAIResponsesParams) completed(modelName string) string {
	data := `{"type":"response.completed","response":{"id":"","object":"response","created":0,"model":"","status":"completed","output":[],"usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0},"output_text":""}}`
	data, _ = sjson.Set(data, "response.id", p.ResponseID)
	data, _ = sjson.Set(data, "response.created", p.CreatedAt)
	data, _ = sjson.Set(data, "response.model", modelName)
	if len(p.summaries) > 0 {
		data, _ = sjson.SetRaw(data, "response.output.-1", p.reasoningItem())
	}
	if p.messageOpen {
		data, _ = sjson.SetRaw(data, "response.output.-1", p.messageItem("completed"))
	}
	data, _ = sjson.Set(data, "response.output_text", p.answerText.String())
	return p.event("response.completed", data)
}

// ensureCreated emits the response.created event once, before any other event.
func (p *ConvertGrokResponseToOpenAIResponsesParams) ensureCreated(modelName string) []string {
	if p.createdSent {
		return nil
	}
	p.createdSent = true

	data := `{"type":"response.created","response":{"id":"","object":"response","status":"in_progress","model":"","created":0,"output":[]}}`
	data, _ = sjson.Set(data, "response.id", p.ResponseID)
	data, _ = sjson.Set(data, "response.model", modelName)
	data, _ = sjson.Set(data, "response.created", p.CreatedAt)
	return []string{p.event("response.created", data)}
}

// reasoningDelta opens the reasoning output item on first use and emits one
// summary_text delta. Reasoning arriving after answer content has started
// opens a further summary entry on the same item, so nothing is dropped.
func (p *ConvertGrokResponseToOpenAIResponsesParams) reasoningDelta(text string) []string {
	var out []string
	if !p.reasoningAdded {
		p.reasoningAdded = true
		p.summaryOpen = true
		p.reasoningIndex = p.outputIndex
		p.outputIndex++

		data := `{"type":"response.output_item.added","output_index":0,"item":{"id":"","type":"reasoning","summary":[]}}`
		data, _ = sjson.Set(data, "output_index", p.reasoningIndex)
		data, _ = sjson.Set(data, "item.id", p.ReasoningItemID)
		out = append(out, p.event("response.output_item.added", data))
	} else if !p.summaryOpen {
		p.summaryOpen = true
		p.summaryIndex++
	}
	p.summaryText.WriteString(text)

	data := `{"type":"response.reasoning_summary_text.delta","item_id":"","output_index":0,"summary_index":0,"delta":""}`
	data, _ = sjson.Set(data, "item_id", p.ReasoningItemID)
	data, _ = sjson.Set(data, "output_index", p.reasoningIndex)
	data, _ = sjson.Set(data, "summary_index", p.summaryIndex)
	data, _ = sjson.Set(data, "delta", text)
	return append(out, p.event("response.reasoning_summary_text.delta", data))
}

// closeSummary ends the summary entry currently receiving deltas. The
// reasoning item itself stays open until finish so reasoning that resumes
// after answer content can attach as a further summary entry.
func (p *ConvertGrokResponseToOpenAIResponsesParams) closeSummary() []string {
	if !p.summaryOpen {
		return nil
	}
	p.summaryOpen = false
	text := p.summaryText.String()
	p.summaries = append(p.summaries, text)
	p.summaryText.Reset()

	data := `{"type":"response.reasoning_summary_text.done","item_id":"","output_index":0,"summary_index":0,"text":""}`
	data, _ = sjson.Set(data, "item_id", p.ReasoningItemID)
	data, _ = sjson.Set(data, "output_index", p.reasoningIndex)
	data, _ = sjson.Set(data, "summary_index", p.summaryIndex)
	data, _ = sjson.Set(data, "text", text)
	return []string{p.event("response.reasoning_summary_text.done", data)}
}

func (p *ConvertGrokResponseToOpenAIResponsesParams) closeReasoningItem() []string {
	if !p.reasoningAdded {
		return nil
	}
	data := `{"type":"response.output_item.done","output_index":0,"item":{}}`
	data, _ = sjson.Set(data, "output_index", p.reasoningIndex)
	data, _ = sjson.SetRaw(data, "item", p.reasoningItem())
	return []string{p.event("response.output_item.done", data)}
}

// answerDelta opens the message output item and its text part on first use,
// ending any in-progress reasoning summary first, and emits one output_text
// delta.
func (p *ConvertGrokResponseToOpenAIResponsesParams) answerDelta(text string) []string {
	var out []string
	out = append(out, p.closeSummary()...)

	if !p.messageOpen {
		p.messageOpen = true
		p.messageIndex = p.outputIndex
		p.outputIndex++

		data := `{"type":"response.output_item.added","output_index":0,"item":{"id":"","type":"message","status":"in_progress","role":"assistant","content":[]}}`
		data, _ = sjson.Set(data, "output_index", p.messageIndex)
		data, _ = sjson.Set(data, "item.id", p.MsgItemID)
		out = append(out, p.event("response.output_item.added", data))

		data = `{"type":"response.content_part.added","item_id":"","output_index":0,"content_index":0,"part":{"type":"output_text","text":"","annotations":[]}}`
		data, _ = sjson.Set(data, "item_id", p.MsgItemID)
		data, _ = sjson.Set(data, "output_index", p.messageIndex)
		out = append(out, p.event("response.content_part.added", data))
	}
	p.answerText.WriteString(text)

	data := `{"type":"response.output_text.delta","item_id":"","output_index":0,"content_index":0,"delta":""}`
	data, _ = sjson.Set(data, "item_id", p.MsgItemID)
	data, _ = sjson.Set(data, "output_index", p.messageIndex)
	data, _ = sjson.Set(data, "delta", text)
	return append(out, p.event("response.output_text.delta", data))
}

func (p *ConvertGrokResponseToOpenAIResponsesParams) reasoningItem() string {
	item := `{"id":"","type":"reasoning","summary":[]}`
	item, _ = sjson.Set(item, "id", p.ReasoningItemID)
	for _, text := range p.summaries {
		entry := `{"type":"summary_text","text":""}`
		entry, _ = sjson.Set(entry, "text", text)
		item, _ = sjson.SetRaw(item, "summary.-1", entry)
	}
	return item
}

func (p *ConvertGrokResponseToOpenAIResponsesParams) messageItem(status string) string {
	item := `{"id":"","type":"message","status":"","role":"assistant","content":[{"type":"output_text","text":"","annotations":[]}]}`
	item, _ = sjson.Set(item, "id", p.MsgItemID)
	item, _ = sjson.Set(item, "status", status)
	item, _ = sjson.Set(item, "content.0.text", p.answerText.String())
	return item
}

// event renders one SSE event with the next sequence number. The handler
// appends the final newline of the event terminator.
func (p *ConvertGrokResponseToOpenAIResponsesParams) event(eventType, data string) string {
	data, _ = sjson.Set(data, "sequence_number", p.Sequence)
	p.Sequence++
	return "event: " + eventType + "\ndata: " + data + "\n"
}

// ConvertGrokResponseToOpenAIResponsesNonStream converts a complete Grok
// NDJSON response body into a single Responses API response object.
func ConvertGrokResponseToOpenAIResponsesNonStream(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string {
	var content string
	var imageParts []string

	for _, line := range bytes.Split(rawJSON, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		resp := gjson.ParseBytes(line).Get("result.response")
		if !resp.Exists() {
			continue
		}
		mr := resp.Get("modelResponse")
		if !mr.Exists() {
			continue
		}
		content = mr.Get("message").String()

		imageParts = imageParts[:0]
		mr.Get("generatedImageUrls").ForEach(func(_, u gjson.Result) bool {
			cleanURL := strings.TrimSpace(u.String())
			if !grok.IsValidGeneratedURL(cleanURL) {
				return true
			}
			imgID := grok.ExtractImageID(cleanURL)
			imageParts = append(imageParts, fmt.Sprintf("![%s](%s)\n", imgID, grok.AssetPath(cleanURL)))
			return true
		})
	}

	if len(imageParts) > 0 {
		content = strings.Join(imageParts, "")
	}

	tags := grok.DefaultFilterTags
	if v, ok := ctx.Value("filter-tags").([]string); ok {
		tags = v
	}
	content = grok.FilterContent(content, tags)

	answer, reasoning := thinktag.Split(content)
	showThink := true
	if v, ok := ctx.Value("thinking").(bool); ok {
		showThink = v
	}
	if !showThink {
		reasoning = ""
	}

	out := `{"id":"","object":"response","created":0,"model":"","status":"completed","output":[],"usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0},"output_text":""}`
	out, _ = sjson.Set(out, "id", newID("resp"))
	out, _ = sjson.Set(out, "created", time.Now().Unix())
	out, _ = sjson.Set(out, "model", modelName)

	if reasoning != "" {
		item := `{"id":"","type":"reasoning","summary":[{"type":"summary_text","text":""}]}`
		item, _ = sjson.Set(item, "id", newID("rs"))
		item, _ = sjson.Set(item, "summary.0.text", reasoning)
		out, _ = sjson.SetRaw(out, "output.-1", item)
	}

	item := `{"id":"","type":"message","status":"completed","role":"assistant","content":[{"type":"output_text","text":"","annotations":[]}]}`
	item, _ = sjson.Set(item, "id", newID("msg"))
	item, _ = sjson.Set(item, "content.0.text", answer)
	out, _ = sjson.SetRaw(out, "output.-1", item)

	out, _ = sjson.Set(out, "output_text", answer)
	return out
}
