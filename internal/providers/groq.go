package providers

const groqBaseURL = "https://api.groq.com/openai/v1"

// NewGroqProvider talks to Groq's OpenAI-compatible endpoint. Groq serves
// chat completions only.
func NewGroqProvider(alias, apiKey, model string) (LLMEmbedProvider, error) {
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	return NewOpenAIProvider(OpenAIOptions{
		Name:         "groq",
		KeyAlias:     alias,
		APIKey:       apiKey,
		BaseURL:      groqBaseURL,
		ChatModel:    model,
		NoEmbeddings: true,
	})
}
