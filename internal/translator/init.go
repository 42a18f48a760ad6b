package translator

import (
	_ "github.com/grokproxy/GrokProxyAPI/internal/translator/grok/openai/chat-completions"
	_ "github.com/grokproxy/GrokProxyAPI/internal/translator/grok/openai/responses"
)
