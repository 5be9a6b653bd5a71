package backend

// ChatMessage is one entry of the messages array sent to /api/chat
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries the decoding parameters for a chat call
type ChatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// ChatRequest represents the request body for Ollama /api/chat
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ChatOptions   `json:"options"`
}

// ChatResponse represents the non-streaming response from Ollama /api/chat
type ChatResponse struct {
	Model     string      `json:"model"`
	CreatedAt string      `json:"created_at"`
	Message   ChatMessage `json:"message"`
	Done      bool        `json:"done"`
}

// VersionResponse represents the response from Ollama /api/version
type VersionResponse struct {
	Version string `json:"version"`
}

// ErrorResponse is the body Ollama returns alongside non-2xx statuses
type ErrorResponse struct {
	Error string `json:"error"`
}

// TagsResponse represents the response from Ollama /api/tags endpoint
type TagsResponse struct {
	Models []Model `json:"models"`
}

// Model represents a single model in the Ollama tags response
type Model struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}
