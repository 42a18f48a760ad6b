package chat_completions

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/grokproxy/GrokProxyAPI/internal/thinktag"
	"github.com/grokproxy/GrokProxyAPI/internal/translator/grok"
)

// ConvertGrokResponseToOpenAIParams holds the per-session state threaded
// through every call of a streaming translation.
type ConvertGrokResponseToOpenAIParams struct {
	ResponseID  string
	CreatedAt   int64
	Fingerprint string
	RoleSent    bool
	Done        bool

	// ShowThink controls whether reasoning content is surfaced at all.
	ShowThink bool
	Parser    *thinktag.Parser
	Filter    *grok.StreamTagFilter
	Replay    grok.ReplayGuard

	finalTokenSent bool
	imageSeen      bool
	imageEmitted   bool
	pendingTokens  []string
}

func newConvertGrokResponseToOpenAIParams(ctx context.Context) *ConvertGrokResponseToOpenAIParams {
	p := &ConvertGrokResponseToOpenAIParams{
		CreatedAt: time.Now().Unix(),
		ShowThink: true,
		Parser:    thinktag.NewParser(),
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

// ConvertGrokResponseToOpenAI converts one Grok NDJSON payload into zero or
// more chat.completion.chunk frames. Reasoning content, both tokens flagged
// by the upstream and regions delimited by literal think tags in answer text,
// is emitted on the reasoning channel. The sentinel payload [DONE] flushes
// buffered state and produces the terminal finish_reason frame, exactly once.
func ConvertGrokResponseToOpenAI(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = newConvertGrokResponseToOpenAIParams(ctx)
	}
	p := (*param).(*ConvertGrokResponseToOpenAIParams)

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

	if hash := resp.Get("llmInfo.modelHash"); hash.Exists() && p.Fingerprint == "" {
		p.Fingerprint = hash.String()
	}
	if rid := resp.Get("responseId").String(); rid != "" && !p.RoleSent {
		p.ResponseID = grok.NormalizeChatcmplID(rid)
	}

	if !p.RoleSent {
		out = append(out, p.roleChunk(modelName))
		p.RoleSent = true
	}

	if img := resp.Get("streamingImageGenerationResponse"); img.Exists() {
		p.imageSeen = true
		if p.ShowThink {
			idx := img.Get("imageIndex").Int() + 1
			progress := img.Get("progress").Int()
			out = append(out, p.reasoningChunk(modelName, fmt.Sprintf("Generating image %d, progress %d%%\n", idx, progress)))
		}
		return out
	}

	if video := resp.Get("streamingVideoGenerationResponse"); video.Exists() {
		progress := video.Get("progress").Int()
		if p.ShowThink {
			out = append(out, p.reasoningChunk(modelName, fmt.Sprintf("Generating video, progress %d%%\n", progress)))
		}
		if progress == 100 {
			if videoURL := video.Get("videoUrl").String(); videoURL != "" {
				out = append(out, p.contentChunk(modelName, grok.AssetPath(videoURL)+"\n"))
				p.finalTokenSent = true
			}
		}
		return out
	}

	if mr := resp.Get("modelResponse"); mr.Exists() {
		return append(out, p.handleModelResponse(modelName, mr)...)
	}

	if token := resp.Get("token"); token.Exists() && token.String() != "" {
		out = append(out, p.handleToken(modelName, resp, token.String())...)
	}
	return out
}

// handleToken classifies an incremental token and routes it to the reasoning
// or answer channel. Answer text goes through the think-tag parser so that
// regions delimited in-text are split out as reasoning.
func (p *ConvertGrokResponseToOpenAIParams) handleToken(modelName string, resp gjson.Result, token string) []string {
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
		return []string{p.reasoningChunk(modelName, filtered)}
	}

	// Hold answer tokens back while image generation is in flight; the image
	// output supersedes them when it lands.
	if p.imageSeen && !p.imageEmitted {
		p.pendingTokens = append(p.pendingTokens, filtered)
		return nil
	}

	if p.Replay.IsReplay(filtered) {
		log.Debugf("skip replayed token chunk: %.80s", filtered)
		return nil
	}

	out := p.emitAnswer(modelName, filtered)
	p.Replay.Record(filtered)
	p.finalTokenSent = true
	return out
}

// handleModelResponse processes the final upstream summary payload: generated
// image links, the fallback full message, and the final model fingerprint.
func (p *ConvertGrokResponseToOpenAIParams) handleModelResponse(modelName string, mr gjson.Result) []string {
	var out []string

	emittedImages := 0
	mr.Get("generatedImageUrls").ForEach(func(_, u gjson.Result) bool {
		cleanURL := strings.TrimSpace(u.String())
		if !grok.IsValidGeneratedURL(cleanURL) {
			log.Warnf("skip invalid generated image url: %s", cleanURL)
			return true
		}
		imgID := grok.ExtractImageID(cleanURL)
		out = append(out, p.contentChunk(modelName, fmt.Sprintf("![%s](%s)\n", imgID, grok.AssetPath(cleanURL))))
		emittedImages++
		return true
	})

	if emittedImages > 0 {
		p.imageEmitted = true
		p.finalTokenSent = true
		p.pendingTokens = nil
	} else if len(p.pendingTokens) > 0 && !p.finalTokenSent {
		out = append(out, p.flushPendingTokens(modelName)...)
	}

	// Token increments take precedence; fall back to the aggregate message
	// only when the upstream never streamed a final token and no image output
	// replaced the text.
	if !p.finalTokenSent && emittedImages == 0 {
		if msg := mr.Get("message").String(); msg != "" {
			filtered := p.Filter.Filter(msg)
			if filtered != "" && !p.Replay.IsReplay(filtered) {
				out = append(out, p.emitAnswer(modelName, filtered)...)
				p.Replay.Record(filtered)
				p.finalTokenSent = true
			}
		}
	}

	if hash := mr.Get("metadata.llm_info.modelHash"); hash.Exists() {
		p.Fingerprint = hash.String()
	}
	return out
}

// finish flushes held-back tokens and the parser residue, then emits the
// terminal frame. Residue after a dangling open tag stays reasoning.
func (p *ConvertGrokResponseToOpenAIParams) finish(modelName string) []string {
	if p.Done {
		return []string{}
	}
	p.Done = true

	var out []string
	if !p.RoleSent {
		out = append(out, p.roleChunk(modelName))
		p.RoleSent = true
	}
	if len(p.pendingTokens) > 0 && !p.imageEmitted && !p.finalTokenSent {
		out = append(out, p.flushPendingTokens(modelName)...)
	}
	out = append(out, p.emitSegments(modelName, p.Parser.Flush())...)
	out = append(out, p.finishChunk(modelName))
	return out
}

func (p *ConvertGrokResponseToOpenAIParams) flushPendingTokens(modelName string) []string {
	var out []string
	for _, pending := range p.pendingTokens {
		if p.Replay.IsReplay(pending) {
			continue
		}
		out = append(out, p.emitAnswer(modelName, pending)...)
		p.Replay.Record(pending)
		p.finalTokenSent = true
	}
	p.pendingTokens = nil
	return out
}

// emitAnswer feeds answer text through the think-tag parser and converts the
// classified segments to frames.
func (p *ConvertGrokResponseToOpenAIParams) emitAnswer(modelName, text string) []string {
	return p.emitSegments(modelName, p.Parser.Feed(text))
}

func (p *ConvertGrokResponseToOpenAIParams) emitSegments(modelName string, segments []thinktag.Segment) []string {
	var out []string
	for _, seg := range segments {
		if seg.Reasoning {
			if p.ShowThink {
				out = append(out, p.reasoningChunk(modelName, seg.Text))
			}
			continue
		}
		out = append(out, p.contentChunk(modelName, seg.Text))
	}
	return out
}

func (p *ConvertGrokResponseToOpenAIParams) chunk(modelName string) string {
	if p.ResponseID == "" {
		p.ResponseID = grok.NormalizeChatcmplID("")
	}
	template := `{"id":"","object":"chat.completion.chunk","created":0,"model":"","system_fingerprint":"","choices":[{"index":0,"delta":{},"logprobs":null,"finish_reason":null}]}`
	template, _ = sjson.Set(template, "id", p.ResponseID)
	template, _ = sjson.Set(template, "created", p.CreatedAt)
	template, _ = sjson.Set(template, "model", modelName)
	template, _ = sjson.Set(template, "system_fingerprint", p.Fingerprint)
	return template
}

func (p *ConvertGrokResponseToOpenAIParams) roleChunk(modelName string) string {
	out := p.chunk(modelName)
	out, _ = sjson.Set(out, "choices.0.delta.role", "assistant")
	out, _ = sjson.Set(out, "choices.0.delta.content", "")
	return out
}

func (p *ConvertGrokResponseToOpenAIParams) contentChunk(modelName, text string) string {
	out := p.chunk(modelName)
	out, _ = sjson.Set(out, "choices.0.delta.content", text)
	return out
}

func (p *ConvertGrokResponseToOpenAIParams) reasoningChunk(modelName, text string) string {
	out := p.chunk(modelName)
	out, _ = sjson.Set(out, "choices.0.delta.reasoning_content", text)
	return out
}

func (p *ConvertGrokResponseToOpenAIParams) finishChunk(modelName string) string {
	out := p.chunk(modelName)
	out, _ = sjson.Set(out, "choices.0.finish_reason", "stop")
	return out
}

// ConvertGrokResponseToOpenAINonStream converts a complete Grok NDJSON
// response body into a single chat.completion response. Markup tags are
// stripped, think-tag regions are split into the reasoning field, and
// generated image links replace the answer text when present.
func ConvertGrokResponseToOpenAINonStream(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string {
	var responseID, fingerprint, content string
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

		if hash := resp.Get("llmInfo.modelHash"); hash.Exists() && fingerprint == "" {
			fingerprint = hash.String()
		}

		mr := resp.Get("modelResponse")
		if !mr.Exists() {
			continue
		}
		responseID = mr.Get("responseId").String()
		content = mr.Get("message").String()

		imageParts = imageParts[:0]
		mr.Get("generatedImageUrls").ForEach(func(_, u gjson.Result) bool {
			cleanURL := strings.TrimSpace(u.String())
			if !grok.IsValidGeneratedURL(cleanURL) {
				log.Warnf("skip invalid generated image url: %s", cleanURL)
				return true
			}
			imgID := grok.ExtractImageID(cleanURL)
			imageParts = append(imageParts, fmt.Sprintf("![%s](%s)\n", imgID, grok.AssetPath(cleanURL)))
			return true
		})

		if hash := mr.Get("metadata.llm_info.modelHash"); hash.Exists() {
			fingerprint = hash.String()
		}
	}

	// Image output supersedes the aggregate message text.
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

	out := `{"id":"","object":"chat.completion","created":0,"model":"","system_fingerprint":"","choices":[{"index":0,"message":{"role":"assistant","content":"","refusal":null},"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`
	out, _ = sjson.Set(out, "id", grok.NormalizeChatcmplID(responseID))
	out, _ = sjson.Set(out, "created", time.Now().Unix())
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "system_fingerprint", fingerprint)
	out, _ = sjson.Set(out, "choices.0.message.content", answer)
	if reasoning != "" {
		out, _ = sjson.Set(out, "choices.0.message.reasoning_content", reasoning)
	}
	return out
}
