package llm

import "context"

// CompletionRequest is a single system+user chat turn sent to the model.
type CompletionRequest struct {
	System      string  `json:"system"`
	User        string  `json:"user"`
	Temperature float32 `json:"temperature"`
	// JSONResponse asks the backend for a structured (JSON object) reply.
	JSONResponse bool `json:"json_response"`
}

// CompletionResponse carries the first choice returned by the model.
type CompletionResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// ChatModel defines the standard interface for any chat-completion backend.
// Implementations must be safe for concurrent use once constructed.
type ChatModel interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// unconfiguredModel is installed when no credential is available so the
// service can still start and report the problem on every model call.
type unconfiguredModel struct {
	err error
}

// Unconfigured returns a ChatModel that fails every call with err.
func Unconfigured(err error) ChatModel {
	if err == nil {
		err = ErrMissingCredential
	}
	return unconfiguredModel{err: err}
}

func (u unconfiguredModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return nil, u.err
}
