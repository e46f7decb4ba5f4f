package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chriskillpack/imgsum/describer"

	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

// DefaultDeployment is the model deployment used when none is configured.
const DefaultDeployment = "gpt-4o"

// Options configures the OpenAI backend. When AzureEndpoint is set requests
// go to an Azure OpenAI resource, otherwise to the OpenAI API (or BaseURL).
type Options struct {
	Deployment string

	AzureEndpoint string
	APIVersion    string
	APIKey        string

	// BaseURL overrides the OpenAI API address. Ignored for Azure.
	BaseURL string

	// RequestsPerMinute throttles chat completions client side. Zero
	// disables throttling.
	RequestsPerMinute int
}

type openai struct {
	oac   *oagc.Client
	model string
	rl    *rateLimiter // For requests to the OpenAI API
}

var _ describer.Describer = &openai{}

func Init(httpClient *http.Client, opts Options) *openai {
	model := opts.Deployment
	if model == "" {
		model = DefaultDeployment
	}

	// Retries are owned by the caller's retry policy, which only retries rate
	// limiting. The SDK would otherwise retry 5xx and 429 on its own.
	reqopts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if opts.AzureEndpoint != "" {
		reqopts = append(reqopts,
			azure.WithEndpoint(opts.AzureEndpoint, opts.APIVersion),
			azure.WithAPIKey(opts.APIKey),
		)
	} else {
		if opts.APIKey != "" {
			reqopts = append(reqopts, option.WithAPIKey(opts.APIKey))
		}
		if opts.BaseURL != "" {
			reqopts = append(reqopts, option.WithBaseURL(opts.BaseURL))
		}
	}

	o := &openai{
		oac:   oagc.NewClient(reqopts...),
		model: model,
	}
	if opts.RequestsPerMinute > 0 {
		o.rl = newRateLimiter(opts.RequestsPerMinute, time.Minute)
	}

	return o
}

func (o *openai) Name() string { return "openai" }

func (o *openai) Model() string { return o.model }

// IsHealthy always reports true. Azure deployments have no cheap endpoint to
// probe, failures surface on the first completion instead.
func (o *openai) IsHealthy(ctx context.Context) bool { return true }

func (o *openai) Describe(ctx context.Context, req describer.Request) (string, error) {
	// Rate limit use of the OpenAI API
	if err := o.rl.Acquire(ctx); err != nil {
		return "", err
	}

	params := oagc.ChatCompletionNewParams{
		Model: oagc.F(oagc.ChatModel(o.model)),
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.SystemMessage(req.SystemPrompt),
			oagc.UserMessageParts(
				oagc.TextPart(req.Prompt),
				oagc.ImagePart(req.ImageURL),
			),
		}),
		Temperature: oagc.Float(req.Temperature),
	}
	resp, err := o.oac.Chat.Completions.New(ctx, params)
	if err != nil {
		var apierr *oagc.Error
		if errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %w", describer.ErrRateLimited, err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}

	return resp.Choices[0].Message.Content, nil
}
