// Package embedclient implements the chunked, rate-limited embedding client
// described in spec §4.3 (C3). The real implementation calls the embedding
// provider through github.com/openai/openai-go/v2, a dependency the teacher
// repository already carries for its own LLM calls; this replaces the
// teacher's hand-rolled raw-HTTP embedding client with the SDK itself.
package embedclient

import (
	"context"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"

	"chatvector/internal/errs"
	"chatvector/internal/logging"
	"chatvector/internal/model"
	"chatvector/internal/ratelimit"
)

const (
	providerEmbed = "embed"
	endpointEmbed = "embeddings"

	// MaxBatch is the upstream batch-size ceiling (spec §4.3).
	MaxBatch = 100
)

// Embedder is the interface components depend on; production code gets
// *Client, tests get a fake.
type Embedder interface {
	Embed(ctx context.Context, text string) (model.Vector, error)
	EmbedMany(ctx context.Context, texts []string) ([]model.Vector, error)
}

// Client is the production Embedder backed by the configured OpenAI-
// compatible embedding model.
type Client struct {
	oai       openai.Client
	model     string
	gov       *ratelimit.Governor
	rateLimit int
	log       zerolog.Logger
}

// NewClient constructs a Client. model names the embedding model to call
// (e.g. "text-embedding-3-small"); it must produce model.EmbeddingDimension
// vectors.
func NewClient(apiKey, baseURL, modelName string, gov *ratelimit.Governor, ratePerMinute int) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	gov.Configure(providerEmbed, endpointEmbed, ratePerMinute)
	return &Client{
		oai:       openai.NewClient(opts...),
		model:     modelName,
		gov:       gov,
		rateLimit: ratePerMinute,
		log:       logging.For("embedclient"),
	}
}

// Embed is the single-chunk fast path.
func (c *Client) Embed(ctx context.Context, text string) (model.Vector, error) {
	vs, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// EmbedMany embeds texts in batches of at most MaxBatch, preserving input
// order (spec §4.3).
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([]model.Vector, error) {
	out := make([]model.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatch {
		end := start + MaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([]model.Vector, error) {
	if err := c.gov.Acquire(ctx, providerEmbed, endpointEmbed, c.rateLimit); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := c.oai.Embeddings.New(callCtx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: openai.Int(int64(model.EmbeddingDimension)),
	})
	if err != nil {
		if isRateLimitErr(err) {
			c.gov.NotifyRetryAfter(providerEmbed, endpointEmbed, 2*time.Second)
			return nil, errs.Wrap(errs.KindUpstreamThrottled, true, err, "embedding provider throttled")
		}
		return nil, errs.Wrap(errs.KindUpstreamTimeout, true, err, "calling embedding provider")
	}

	out := make([]model.Vector, len(resp.Data))
	for _, d := range resp.Data {
		if len(d.Embedding) != model.EmbeddingDimension {
			return nil, errs.New(errs.KindEmbeddingDimensionMismatch, false,
				"embedding provider returned dimension %d, expected %d", len(d.Embedding), model.EmbeddingDimension)
		}
		v := make(model.Vector, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		out[d.Index] = v
	}
	return out, nil
}

func isRateLimitErr(err error) bool {
	var apiErr *openai.Error
	if ok := asOpenAIError(err, &apiErr); ok {
		return apiErr.StatusCode == 429
	}
	return false
}

func asOpenAIError(err error, target **openai.Error) bool {
	for err != nil {
		if e, ok := err.(*openai.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
