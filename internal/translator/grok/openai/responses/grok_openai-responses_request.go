// Package responses provides translation between the OpenAI Responses API
// format and the Grok conversational backend format. Input items are
// flattened into a single prompt; streaming NDJSON responses become typed
// response.* SSE events with strictly increasing sequence numbers.
package responses

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/grokproxy/GrokProxyAPI/internal/translator/grok"
)

// ConvertOpenAIResponsesRequestToGrok converts an OpenAI Responses API
// request body into a Grok conversation request. Instructions become a
// leading system line; input is either a plain string or a list of message
// items whose text parts are flattened in order.
func ConvertOpenAIResponsesRequestToGrok(modelName string, rawJSON []byte, stream bool) []byte {
	upstreamModel, reasoning := grok.ResolveModel(modelName)

	out := `{"temporary":true,"modelName":"","message":"","fileAttachments":[],"imageAttachments":[],"disableSearch":false,"enableImageGeneration":true,"returnImageBytes":false,"enableImageStreaming":true,"imageGenerationCount":2,"forceConcise":false,"toolOverrides":{},"sendFinalMetadata":true,"isReasoning":false}`
	out, _ = sjson.Set(out, "modelName", upstreamModel)
	out, _ = sjson.Set(out, "isReasoning", reasoning)

	if effort := gjson.GetBytes(rawJSON, "reasoning.effort"); effort.Exists() {
		if v := effort.String(); v != "" && v != "none" {
			out, _ = sjson.Set(out, "isReasoning", true)
		}
	}

	var sb strings.Builder
	if instructions := gjson.GetBytes(rawJSON, "instructions").String(); instructions != "" {
		sb.WriteString("System: ")
		sb.WriteString(instructions)
	}

	input := gjson.GetBytes(rawJSON, "input")
	if input.Type == gjson.String {
		appendPrompt(&sb, "user", input.String())
	} else if input.IsArray() {
		input.ForEach(func(_, item gjson.Result) bool {
			if t := item.Get("type").String(); t != "" && t != "message" {
				return true
			}
			appendPrompt(&sb, item.Get("role").String(), itemText(item.Get("content")))
			return true
		})
	}

	out, _ = sjson.Set(out, "message", sb.String())
	return []byte(out)
}

func appendPrompt(sb *strings.Builder, role, text string) {
	if text == "" {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	switch role {
	case "system", "developer":
		sb.WriteString("System: ")
	case "assistant":
		sb.WriteString("Assistant: ")
	default:
		sb.WriteString("Human: ")
	}
	sb.WriteString(text)
}

// itemText extracts the text of an input item content value, which is either
// a plain string or an array of typed parts.
func itemText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "input_text", "output_text", "text":
			parts = append(parts, part.Get("text").String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}
