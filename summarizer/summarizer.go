// Package summarizer asks a vision model for a retrieval oriented summary of
// an image.
package summarizer

import (
	"context"
	"strings"
	"time"

	"github.com/chriskillpack/imgsum/describer"
	"github.com/chriskillpack/imgsum/internal/retry"
	"go.uber.org/zap"
)

const (
	SystemPrompt = `You are an assistant for summarizing images for retrieval.
Summarize the content of the following image and be as precise as possible.
The summary will be embedded and used to retrieve the original image.
Therefore, write a concise summary of the image that is optimized for retrieval.`

	DefaultPrompt = "Summarize the content and the subject of the picture."

	metadataHeading = "Use the following context about the image:"
)

type Summarizer struct {
	d      describer.Describer
	policy retry.Policy
	logger *zap.Logger

	// OnRetry is called before every backoff wait. Optional.
	OnRetry func()
}

// New returns a Summarizer calling d under policy. A nil policy uses
// retry.Default for describer.ErrRateLimited. The policy is copied, its
// BeforeSleep hook is replaced with logging.
func New(d describer.Describer, policy *retry.Policy, logger *zap.Logger) *Summarizer {
	if policy == nil {
		policy = retry.Default(describer.ErrRateLimited)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Summarizer{d: d, policy: *policy, logger: logger}
}

// Prompt returns the user prompt for md.
func Prompt(md Metadata) string {
	if md.Len() == 0 {
		return DefaultPrompt
	}
	return DefaultPrompt + "\n\n" + metadataHeading + "\n" + md.String()
}

// Summarize returns the model's summary of the image in dataURI. A nil
// summary with a nil error means the model returned no content. Rate limited
// calls are retried under the policy, exhaustion returns a
// *retry.ExhaustedError. Any other error is returned immediately.
func (s *Summarizer) Summarize(ctx context.Context, dataURI string, md Metadata) (*string, error) {
	req := describer.Request{
		SystemPrompt: SystemPrompt,
		Prompt:       Prompt(md),
		ImageURL:     dataURI,
		Temperature:  0,
	}

	policy := s.policy
	policy.BeforeSleep = func(attempt int, wait time.Duration, err error) {
		s.logger.Warn("rate limited, retrying summarization",
			zap.String("describer", s.d.Name()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err))
		if s.OnRetry != nil {
			s.OnRetry()
		}
	}

	var content string
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		content, err = s.d.Describe(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	return &content, nil
}
