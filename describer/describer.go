package describer

import (
	"context"
	"errors"
)

// ErrRateLimited is wrapped by backends when the model service asks the
// caller to slow down. It is the only error a caller should retry on.
var ErrRateLimited = errors.New("rate limited by model service")

// Request is a single image description request.
type Request struct {
	// SystemPrompt describes the task to the model.
	SystemPrompt string

	// Prompt is the user turn text sent alongside the image.
	Prompt string

	// ImageURL is the image as a data URI, e.g. "data:image/jpeg;base64,...".
	ImageURL string

	// Temperature is the sampling temperature, 0 for deterministic output.
	Temperature float64
}

// Describer describes an image using a specific LLM.
type Describer interface {
	// Name returns the name of the backing LLM service, e.g. "llama" or "openai"
	Name() string

	// Model returns the model or deployment used by the service.
	Model() string

	// Describe returns the model's text response for the image in req. An
	// empty string with a nil error means the model returned no content. The
	// provided ctx is used as a parent context for the request to the LLM
	// server.
	Describe(ctx context.Context, req Request) (string, error)

	// IsHealthy returns whether the LLM server is healthy.
	IsHealthy(ctx context.Context) bool
}
