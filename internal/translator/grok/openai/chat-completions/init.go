package chat_completions

import (
	. "github.com/grokproxy/GrokProxyAPI/internal/constant"
	"github.com/grokproxy/GrokProxyAPI/internal/interfaces"
	"github.com/grokproxy/GrokProxyAPI/internal/translator/translator"
)

func init() {
	translator.Register(
		OpenAI,
		Grok,
		ConvertOpenAIRequestToGrok,
		interfaces.TranslateResponse{
			Stream:    ConvertGrokResponseToOpenAI,
			NonStream: ConvertGrokResponseToOpenAINonStream,
		},
	)
}
