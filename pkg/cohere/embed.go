// Package cohere wraps the Cohere v2 embed endpoint.
package cohere

import (
	"context"
	"net/http"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-engine/internal/resilience"
)

// maxTextsPerCall is the API limit on texts per embed request.
const maxTextsPerCall = 96

// Embedder turns texts into float vectors, one per input, in input order.
type Embedder struct {
	client *cohereclient.Client
	model  string
}

// Option customizes New.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(url string) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, cohereclient.WithBaseURL(url))
	}
}

// New creates an Embedder for model.
func New(apiKey, model string, opts ...Option) *Embedder {
	if model == "" {
		model = "embed-english-v3.0"
	}
	reqOpts := []option.RequestOption{
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Embedder{client: cohereclient.NewClient(reqOpts...), model: model}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns one vector per text. Texts are sent in chunks the API
// accepts; a short or missing response is a MalformedResponseError.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxTextsPerCall {
		end := min(start+maxTextsPerCall, len(texts))
		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (e *Embedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.V2.Embed(ctx, &cohere.V2EmbedRequest{
		Texts:          texts,
		Model:          e.model,
		InputType:      cohere.EmbedInputTypeClustering,
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	})
	if err != nil {
		return nil, eris.Wrap(resilience.NewTransientError(err, 0), "cohere: embed")
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, resilience.NewMalformed("", "cohere: no float embeddings in response")
	}
	if len(resp.Embeddings.Float) != len(texts) {
		return nil, resilience.NewMalformed("", "cohere: %d embeddings for %d texts", len(resp.Embeddings.Float), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, vec := range resp.Embeddings.Float {
		fv := make([]float32, len(vec))
		for j, v := range vec {
			fv[j] = float32(v)
		}
		out[i] = fv
	}
	return out, nil
}
