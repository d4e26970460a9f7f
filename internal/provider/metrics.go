package provider

import (
	"context"

	"github.com/jordanhubbard/quill/internal/metrics"
)

// instrumentedClient decorates a Client with prometheus accounting.
type instrumentedClient struct {
	inner   Client
	metrics *metrics.Metrics
	model   string
}

// WithMetrics wraps a client so every completion is counted, failures are
// labelled by error code, and token usage is accumulated.
func WithMetrics(c Client, m *metrics.Metrics, model string) Client {
	if m == nil {
		return c
	}
	return &instrumentedClient{inner: c, metrics: m, model: model}
}

func (c *instrumentedClient) Complete(ctx context.Context, systemPrompt string, messages []Message) (*Completion, error) {
	c.metrics.ProviderRequests.WithLabelValues(c.model).Inc()

	completion, err := c.inner.Complete(ctx, systemPrompt, messages)
	if err != nil {
		c.metrics.ProviderErrors.WithLabelValues(CodeOf(err)).Inc()
		return nil, err
	}

	c.metrics.ProviderTokens.WithLabelValues("prompt").Add(float64(completion.Usage.PromptTokens))
	c.metrics.ProviderTokens.WithLabelValues("completion").Add(float64(completion.Usage.CompletionTokens))
	return completion, nil
}
