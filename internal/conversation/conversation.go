// Package conversation orchestrates one question-answering turn: retrieval
// grounding, prompt assembly, streaming generation and idempotent history
// persistence.
//
// The turn lifecycle is split in two so transports can send early headers:
// Ask resolves grounding and returns a Turn whose Filenames are known before
// any token is generated; Turn.Stream then drives generation and runs
// completion exactly once on every path, success, failure or client cancel.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pharci/lexica/internal/history"
	"github.com/pharci/lexica/internal/log"
	"github.com/pharci/lexica/internal/retrieval"
)

// completionTimeout bounds history writes after the request context died.
const completionTimeout = 5 * time.Second

var (
	// ErrEmptyQuestion indicates a blank question.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrAlreadyStreamed indicates Stream was called twice on one Turn.
	ErrAlreadyStreamed = errors.New("turn already streamed")
)

// Retriever resolves a question into grounding context.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (*retrieval.Result, error)
}

// Transcripts is the slice of the history store the orchestrator needs.
type Transcripts interface {
	AppendMessage(ctx context.Context, id string, m history.Message) (string, error)
	GetDiscussion(ctx context.Context, id string) (*history.Discussion, error)
	SaveExchange(ctx context.Context, ex history.Exchange) error
}

// EmitFunc receives one response chunk. Returning an error aborts the stream.
type EmitFunc func(ctx context.Context, chunk string) error

// Request is one question from a client.
type Request struct {
	// Question is the user's question. Must be non-blank.
	Question string

	// DiscussionID continues an existing discussion; empty starts a new one.
	DiscussionID string

	// History optionally carries the prior turns supplied by the client.
	// When empty, the stored transcript (if any) is used instead. Only
	// user and assistant roles are kept; anything else is dropped.
	History []history.Message
}

// Config contains the orchestrator dependencies.
type Config struct {
	Genkit      *genkit.Genkit
	Retriever   Retriever
	Transcripts Transcripts
	Logger      log.Logger

	// ModelName is the provider-qualified model (e.g. "googleai/gemini-2.5-flash").
	ModelName string

	// Temperature is the sampling temperature passed to the model when
	// positive; zero leaves the provider default.
	Temperature float32

	// RateLimiter throttles generation calls (nil = 10 rps, burst 30).
	RateLimiter *rate.Limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Transcripts == nil {
		return errors.New("transcript store is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Orchestrator runs question-answering turns. Stateless and safe for
// concurrent use; per-turn state lives on the Turn.
type Orchestrator struct {
	g           *genkit.Genkit
	retriever   Retriever
	transcripts Transcripts
	logger      log.Logger
	modelName   string
	temperature float32
	rateLimiter *rate.Limiter
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	return &Orchestrator{
		g:           cfg.Genkit,
		retriever:   cfg.Retriever,
		transcripts: cfg.Transcripts,
		logger:      cfg.Logger,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
		rateLimiter: rl,
	}, nil
}

// Turn is one prepared question-answering turn. Grounding is resolved; the
// answer has not been generated yet.
type Turn struct {
	// DiscussionID is the transcript the turn belongs to. Assigned when
	// the request carried none.
	DiscussionID string

	// Filenames is the set of documents grounding the answer, available
	// before streaming starts.
	Filenames []string

	o        *Orchestrator
	question string
	context  string
	system   string
	messages []*ai.Message
	streamed bool
}

// Outcome is the result of a streamed turn.
type Outcome struct {
	// Response is the full answer text; FailureMessage when Failed.
	Response string

	// Failed reports that generation errored and the fixed failure
	// message was substituted.
	Failed bool
}

// Ask validates the question, resolves grounding and records the user turn.
// The question is in the transcript once Ask returns, so it survives a later
// generation failure.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Turn, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	result, err := o.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	system := personaPreamble
	if !result.Empty() {
		system += knowledgeSection + result.Context
	} else {
		o.logger.Info("no relevant context found, answering without grounding")
	}

	prior := req.History
	if len(prior) == 0 && req.DiscussionID != "" {
		disc, err := o.transcripts.GetDiscussion(ctx, req.DiscussionID)
		switch {
		case errors.Is(err, history.ErrNotFound):
			// New discussion id supplied by the client.
		case err != nil:
			o.logger.Warn("loading transcript", "discussion_id", req.DiscussionID, "error", err)
		default:
			prior = disc.Messages
		}
	}

	messages := make([]*ai.Message, 0, len(prior)+1)
	for _, m := range prior {
		switch m.Role {
		case history.RoleUser:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		case history.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		default:
			// Other roles are dropped silently.
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(question)))

	// Record the question before generation. Best-effort: a history write
	// failure must not block the answer.
	id, err := o.transcripts.AppendMessage(ctx, req.DiscussionID, history.Message{
		Role:    history.RoleUser,
		Content: question,
	})
	if err != nil {
		o.logger.Warn("recording question", "discussion_id", req.DiscussionID, "error", err)
		id = req.DiscussionID
		if id == "" {
			id = uuid.NewString()
		}
	}

	o.logger.Info("question received",
		"discussion_id", id,
		"grounded", !result.Empty(),
		"filenames", result.Filenames)

	return &Turn{
		DiscussionID: id,
		Filenames:    result.Filenames,
		o:            o,
		question:     question,
		context:      result.Context,
		system:       system,
		messages:     messages,
	}, nil
}

// Stream generates the answer, forwarding every chunk through emit as it
// arrives (emit may be nil). On generation failure, including client cancel,
// the fixed FailureMessage becomes the response and, when the client is still
// connected, is emitted in-band. Completion, appending the assistant turn and
// writing the exchange record, runs exactly once on every path.
func (t *Turn) Stream(ctx context.Context, emit EmitFunc) (*Outcome, error) {
	if t.streamed {
		return nil, ErrAlreadyStreamed
	}
	t.streamed = true

	o := t.o
	if err := o.rateLimiter.Wait(ctx); err != nil {
		// Never generated: still complete the turn so the transcript
		// records what happened to the question.
		o.complete(ctx, t, FailureMessage)
		return &Outcome{Response: FailureMessage, Failed: true}, nil
	}

	var acc strings.Builder
	var emitErr error
	cb := func(cbCtx context.Context, chunk *ai.ModelResponseChunk) error {
		text := chunk.Text()
		acc.WriteString(text)
		if emit == nil {
			return nil
		}
		if err := emit(cbCtx, text); err != nil {
			emitErr = err
			return err
		}
		return nil
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(o.modelName),
		ai.WithSystem(t.system),
		ai.WithMessages(t.messages...),
		ai.WithStreaming(cb),
	}
	if o.temperature > 0 {
		opts = append(opts, ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature: float64(o.temperature),
		}))
	}

	resp, err := genkit.Generate(ctx, o.g, opts...)
	if err != nil {
		o.logger.Error("generation failed",
			"discussion_id", t.DiscussionID,
			"streamed_chunks", acc.Len(),
			"error", err)

		// Tell the client in-band, unless it is the client that is gone.
		if emit != nil && ctx.Err() == nil && emitErr == nil {
			if emitFailure := emit(ctx, FailureMessage); emitFailure != nil {
				o.logger.Warn("emitting failure message", "error", emitFailure)
			}
		}

		o.complete(ctx, t, FailureMessage)
		return &Outcome{Response: FailureMessage, Failed: true}, nil
	}

	response := resp.Text()
	// Models that do not stream still produce a full response; make sure
	// the client receives it.
	if emit != nil && acc.Len() == 0 && response != "" {
		if err := emit(ctx, response); err != nil {
			o.logger.Warn("emitting response", "error", err)
		}
	}

	o.complete(ctx, t, response)
	return &Outcome{Response: response}, nil
}

// complete persists the assistant turn and the exchange record. When the
// request context is already dead (client cancel), writes continue on a
// detached context with a short timeout so the partial outcome still lands.
func (o *Orchestrator) complete(ctx context.Context, t *Turn, response string) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
		defer cancel()
	}

	if _, err := o.transcripts.AppendMessage(ctx, t.DiscussionID, history.Message{
		Role:    history.RoleAssistant,
		Content: response,
	}); err != nil {
		o.logger.Warn("recording answer", "discussion_id", t.DiscussionID, "error", err)
	}

	if err := o.transcripts.SaveExchange(ctx, history.Exchange{
		Question: t.question,
		Answer:   response,
		Context:  t.context,
	}); err != nil {
		o.logger.Warn("recording exchange", "discussion_id", t.DiscussionID, "error", err)
	}
}
