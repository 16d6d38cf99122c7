package genai

// Message is one chat turn sent to the completion endpoint.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest is an internal chat-completion request.
type ChatRequest struct {
	System   string
	History  []Message
	UserText string
	// ImageURL optionally attaches an image part to the user turn.
	ImageURL    string
	Model       string
	MaxTokens   int
	Temperature *float32
	// JSONResponse asks the model for a json_object response.
	JSONResponse bool
}

// Usage carries token accounting as reported by the service.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is the completion outcome.
type ChatResult struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}
