// Package chat_completions provides translation between the OpenAI Chat
// Completions API format and the Grok conversational backend format. Requests
// are flattened into a single prompt message; streaming NDJSON responses are
// converted into chat.completion.chunk frames with reasoning content split
// from answer content.
package chat_completions

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/grokproxy/GrokProxyAPI/internal/translator/grok"
)

// ConvertOpenAIRequestToGrok converts an OpenAI chat completions request body
// into a Grok conversation request. The message history is flattened into a
// single role-tagged prompt, the Grok backend keeps no chat structure.
func ConvertOpenAIRequestToGrok(modelName string, rawJSON []byte, stream bool) []byte {
	upstreamModel, reasoning := grok.ResolveModel(modelName)

	out := `{"temporary":true,"modelName":"","message":"","fileAttachments":[],"imageAttachments":[],"disableSearch":false,"enableImageGeneration":true,"returnImageBytes":false,"enableImageStreaming":true,"imageGenerationCount":2,"forceConcise":false,"toolOverrides":{},"sendFinalMetadata":true,"isReasoning":false}`
	out, _ = sjson.Set(out, "modelName", upstreamModel)
	out, _ = sjson.Set(out, "isReasoning", reasoning)

	if effort := gjson.GetBytes(rawJSON, "reasoning_effort"); effort.Exists() {
		if v := effort.String(); v != "" && v != "none" {
			out, _ = sjson.Set(out, "isReasoning", true)
		}
	}

	out, _ = sjson.Set(out, "message", flattenMessages(gjson.GetBytes(rawJSON, "messages")))
	return []byte(out)
}

// flattenMessages joins the chat history into one prompt with role prefixes.
func flattenMessages(messages gjson.Result) string {
	var sb strings.Builder
	messages.ForEach(func(_, msg gjson.Result) bool {
		text := contentText(msg.Get("content"))
		if text == "" {
			return true
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		switch msg.Get("role").String() {
		case "system", "developer":
			sb.WriteString("System: ")
		case "assistant":
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("Human: ")
		}
		sb.WriteString(text)
		return true
	})
	return sb.String()
}

// contentText extracts the text of a message content value, which is either
// a plain string or an array of typed parts.
func contentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var parts []string
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				parts = append(parts, part.Get("text").String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return ""
}
