// Package app assembles the application: provider plugins, vector index,
// history store, ingestion pipeline, orchestrator and HTTP server.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharci/lexica/internal/api"
	"github.com/pharci/lexica/internal/config"
	"github.com/pharci/lexica/internal/conversation"
	"github.com/pharci/lexica/internal/history"
	"github.com/pharci/lexica/internal/index"
	"github.com/pharci/lexica/internal/ingest"
	"github.com/pharci/lexica/internal/log"
	"github.com/pharci/lexica/internal/retrieval"
)

// App is the application container. Build it with Setup and release its
// resources with Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	// DBPool is set only when the postgres index backend is active.
	DBPool *pgxpool.Pool

	Index        index.Index
	History      *history.Store
	Pipeline     *ingest.Pipeline
	Retriever    *retrieval.Retriever
	Orchestrator *conversation.Orchestrator
	Server       *api.Server
}

// Close releases resources held by the application.
func (a *App) Close() error {
	if a.DBPool != nil {
		a.DBPool.Close()
		if a.Logger != nil {
			a.Logger.Info("database pool closed")
		}
	}
	return nil
}
