package gateway

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries per-call generation parameters.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// ChatResponse represents a response from the chat completions endpoint.
type ChatResponse struct {
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice.
type Choice struct {
	Message Message `json:"message"`
}

// StreamChunk is one SSE event of a streaming completion.
type StreamChunk struct {
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice carries the incremental delta of a streaming choice.
type StreamChoice struct {
	Delta Message `json:"delta"`
}
