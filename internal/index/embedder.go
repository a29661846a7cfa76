package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	chromem "github.com/philippgille/chromem-go"
)

// NewEmbeddingFunc creates a chromem-go EmbeddingFunc from a Genkit
// ai.Embedder. chromem normalizes vectors itself, so no manual normalization
// is needed.
func NewEmbeddingFunc(embedder ai.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := embedder.Embed(ctx, &ai.EmbedRequest{
			Input: []*ai.Document{ai.DocumentFromText(text, nil)},
		})
		if err != nil {
			return nil, fmt.Errorf("embed failed: %w", err)
		}
		if len(resp.Embeddings) == 0 {
			return nil, errors.New("no embeddings returned")
		}
		return resp.Embeddings[0].Embedding, nil
	}
}
