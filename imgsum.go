package imgsum

import (
	"fmt"
	"net/http"

	"github.com/chriskillpack/imgsum/describer"
	"github.com/chriskillpack/imgsum/internal/llama"
	"github.com/chriskillpack/imgsum/internal/openai"
)

type InitOptions struct {
	LlamaServer string
	LlamaSeed   int

	OpenAI        bool
	OpenAIOptions openai.Options

	HttpClient *http.Client // if nil uses http.DefaultClient
}

// NewDescriber returns the vision model backend selected by opts. Exactly one
// backend must be selected.
func NewDescriber(opts InitOptions) (describer.Describer, error) {
	httpClient := opts.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var n int
	if opts.OpenAI {
		n++
	}
	if opts.LlamaServer != "" {
		n++
	}
	switch n {
	case 0:
		return nil, fmt.Errorf("no backend selected")
	case 1:
		// no-op
	default:
		return nil, fmt.Errorf("multiple backends selected, only one allowed")
	}

	if opts.OpenAI {
		return openai.Init(httpClient, opts.OpenAIOptions), nil
	}
	return llama.Init(opts.LlamaServer, opts.LlamaSeed, httpClient), nil
}
