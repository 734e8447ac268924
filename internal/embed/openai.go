package embed

import (
	"context"
	"fmt"
	"os"

	oa "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAI embeds text through the OpenAI embeddings API.
type OpenAI struct {
	client oa.Client
	model  string
}

// NewOpenAI builds the OpenAI embedder. The key falls back to the
// OPENAI_API_KEY environment variable.
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedder: missing API key; set OPENAI_API_KEY or embedding.api_key")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAI{client: oa.NewClient(option.WithAPIKey(apiKey)), model: model}, nil
}

func (e *OpenAI) Name() string { return "openai" }

func (e *OpenAI) Embed(ctx context.Context, inputs []string) ([]Vector, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, oa.EmbeddingNewParams{
		Model: oa.EmbeddingModel(e.model),
		Input: oa.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	out := make([]Vector, 0, len(resp.Data))
	for _, d := range resp.Data {
		vec := make(Vector, len(d.Embedding))
		for i := range d.Embedding {
			vec[i] = float32(d.Embedding[i])
		}
		out = append(out, vec)
	}
	return out, nil
}
