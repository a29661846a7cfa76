// Package api exposes the question-answering service over HTTP.
//
// Routes:
//
//	POST   /api/ask                      → streamed plain-text answer
//	POST   /api/documents/file           → multipart document ingestion
//	POST   /api/documents/text           → raw text ingestion
//	GET    /api/documents/status         → index count and collection name
//	GET    /api/history/discussions      → list transcripts
//	GET    /api/history/discussions/{id} → one transcript
//	DELETE /api/history/discussions/{id} → delete a transcript
//	GET    /api/history/sources          → list ingested sources
//	DELETE /api/history/sources/{id}     → delete a source
//	GET    /health, GET /ready           → probes (outside the middleware stack)
//
// File structure:
//   - server.go: routing and middleware assembly
//   - ask.go: streaming answer endpoint
//   - documents.go: ingestion and status endpoints
//   - history.go: discussion and source endpoints
//   - middleware.go: recovery, logging, CORS
//   - health.go: liveness and readiness probes
//   - response.go: JSON response helpers
package api

import (
	"errors"
	"net/http"

	"github.com/pharci/lexica/internal/conversation"
	"github.com/pharci/lexica/internal/history"
	"github.com/pharci/lexica/internal/index"
	"github.com/pharci/lexica/internal/ingest"
	"github.com/pharci/lexica/internal/log"
)

// ServerConfig contains the dependencies of the API server.
type ServerConfig struct {
	Logger       log.Logger
	Orchestrator *conversation.Orchestrator // Required
	Pipeline     *ingest.Pipeline           // Required
	Index        index.Index                // Required
	History      *history.Store             // Required

	// CollectionName is reported by /api/documents/status.
	CollectionName string

	// CORSOrigins are the origins allowed to call the API from a browser.
	CORSOrigins []string

	// RetractVectorsOnDelete removes a source's chunks from the index
	// when the source is deleted via the API.
	RetractVectorsOnDelete bool
}

// Server is the HTTP server for the question-answering API.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("ingestion pipeline is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("vector index is required")
	}
	if cfg.History == nil {
		return nil, errors.New("history store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ask := &askHandler{orchestrator: cfg.Orchestrator, logger: logger}
	docs := &documentsHandler{
		pipeline:       cfg.Pipeline,
		index:          cfg.Index,
		collectionName: cfg.CollectionName,
		logger:         logger,
	}
	hist := &historyHandler{
		store:          cfg.History,
		index:          cfg.Index,
		logger:         logger,
		retractVectors: cfg.RetractVectorsOnDelete,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/ask", ask.ask)

	mux.HandleFunc("POST /api/documents/file", docs.ingestFile)
	mux.HandleFunc("POST /api/documents/text", docs.ingestText)
	mux.HandleFunc("GET /api/documents/status", docs.status)

	mux.HandleFunc("GET /api/history/discussions", hist.listDiscussions)
	mux.HandleFunc("GET /api/history/discussions/{id}", hist.getDiscussion)
	mux.HandleFunc("DELETE /api/history/discussions/{id}", hist.deleteDiscussion)
	mux.HandleFunc("GET /api/history/sources", hist.listSources)
	mux.HandleFunc("DELETE /api/history/sources/{id}", hist.deleteSource)

	// Middleware stack (outermost first): Recovery → Logging → CORS → Routes.
	// CORS sits innermost so preflight OPTIONS still gets logged.
	var handler http.Handler = mux
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux keeps health probes out of the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Index, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
