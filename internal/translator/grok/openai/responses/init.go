package responses

import (
	. "github.com/grokproxy/GrokProxyAPI/internal/constant"
	"github.com/grokproxy/GrokProxyAPI/internal/interfaces"
	"github.com/grokproxy/GrokProxyAPI/internal/translator/translator"
)

func init() {
	translator.Register(
		OpenaiResponse,
		Grok,
		ConvertOpenAIResponsesRequestToGrok,
		interfaces.TranslateResponse{
			Stream:    ConvertGrokResponseToOpenAIResponses,
			NonStream: ConvertGrokResponseToOpenAIResponsesNonStream,
		},
	)
}
