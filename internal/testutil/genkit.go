package testutil

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/genkit"
)

// NewGenkit initializes a plugin-free Genkit instance for registering mock
// models and embedders.
func NewGenkit(t *testing.T) *genkit.Genkit {
	t.Helper()
	return genkit.Init(context.Background())
}
