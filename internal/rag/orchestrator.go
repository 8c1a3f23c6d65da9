package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tablerag/tablerag/internal/catalog"
	"github.com/tablerag/tablerag/internal/embedding"
	"github.com/tablerag/tablerag/internal/llm"
	"github.com/tablerag/tablerag/internal/observability"
	"github.com/tablerag/tablerag/internal/query"
	"github.com/tablerag/tablerag/internal/schema"
	"github.com/tablerag/tablerag/internal/vectorindex"
)

// Searcher is the read side of the vector index.
type Searcher interface {
	Query(vectors [][]float32, k int) ([][]vectorindex.Neighbor, error)
}

type Config struct {
	TopK         int
	HistoryPairs int
	RowLimit     int
	// CallTimeout bounds each external call of a turn; 0 leaves only the caller's deadline.
	CallTimeout time.Duration
	Normalize   bool
}

type Dependencies struct {
	Embedder  embedding.Service
	Index     Searcher
	Catalog   catalog.Reader
	Schema    schema.Introspector
	LLM       llm.Client
	Engine    query.Engine
	Validator query.Validator
	Logger    *slog.Logger
}

type Answer struct {
	Text        string           `json:"answer"`
	FollowUps   []string         `json:"follow_ups"`
	SQL         string           `json:"sql"`
	QueryFailed bool             `json:"query_failed"`
	Entities    []catalog.Entity `json:"entities,omitempty"`
}

type Orchestrator struct {
	cfg  Config
	deps Dependencies
}

func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case deps.Index == nil:
		return nil, fmt.Errorf("vector index is required")
	case deps.Catalog == nil:
		return nil, fmt.Errorf("catalog reader is required")
	case deps.Schema == nil:
		return nil, fmt.Errorf("schema introspector is required")
	case deps.LLM == nil:
		return nil, fmt.Errorf("llm client is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("query engine is required")
	}
	if deps.Validator == nil {
		deps.Validator = query.ReadOnlyValidator{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.HistoryPairs < 0 {
		cfg.HistoryPairs = 0
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// Turn answers one utterance within session. Turns on the same session are
// serialized. The session only grows when the turn completes.
func (o *Orchestrator) Turn(ctx context.Context, session *Session, utterance string) (Answer, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Answer{}, ErrEmptyUtterance
	}
	if session == nil {
		return Answer{}, fmt.Errorf("session is required")
	}

	session.turnMu.Lock()
	defer session.turnMu.Unlock()

	started := time.Now()
	logger := observability.WithSession(observability.LoggerFromContext(ctx, o.deps.Logger), session.ID)

	answer, err := o.run(ctx, logger, session, utterance)
	if err != nil {
		outcome := "error"
		var desync *DesyncError
		if errors.As(err, &desync) {
			outcome = "desync"
		}
		observability.ObserveTurn(outcome)
		logger.ErrorContext(ctx, "turn failed", slog.Any("error", err), slog.Duration("elapsed", time.Since(started)))
		return Answer{}, err
	}

	session.Append(utterance, answer.Text)
	o.finishStep(StepDone, started)
	observability.ObserveTurn("ok")
	logger.InfoContext(ctx, "turn completed",
		slog.Bool("query_failed", answer.QueryFailed),
		slog.Int("entities", len(answer.Entities)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return answer, nil
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, session *Session, utterance string) (Answer, error) {
	step := time.Now()
	contextText := RenderContext(session.Window(o.cfg.HistoryPairs))
	o.finishStep(StepContextAssembly, step)

	var vector []float32
	err := o.call(ctx, StepEmbed, func(callCtx context.Context) error {
		var err error
		vector, err = o.deps.Embedder.Embed(callCtx, EmbeddingText(contextText, utterance), o.cfg.Normalize)
		return err
	})
	if err != nil {
		return Answer{}, err
	}

	entities, err := o.retrieve(ctx, vector)
	if err != nil {
		return Answer{}, err
	}

	var queryPrompt, sqlText string
	err = o.call(ctx, StepQuerySynthesis, func(callCtx context.Context) error {
		summary, err := schema.Summarize(callCtx, o.deps.Schema)
		if err != nil {
			return err
		}
		queryPrompt = BuildQueryPrompt(utterance, summary, entities)
		completion, err := o.deps.LLM.Complete(callCtx, queryPrompt)
		if err != nil {
			return err
		}
		sqlText = StripMarkdownSQL(completion)
		return nil
	})
	if err != nil {
		return Answer{}, err
	}

	resultText, queryFailed := o.execute(ctx, logger, sqlText)

	var answerText string
	err = o.call(ctx, StepAnswerSynthesis, func(callCtx context.Context) error {
		var err error
		answerText, err = o.deps.LLM.Complete(callCtx, BuildAnswerPrompt(contextText, utterance, sqlText, resultText))
		return err
	})
	if err != nil {
		return Answer{}, err
	}

	var followUps []string
	err = o.call(ctx, StepFollowUpSynthesis, func(callCtx context.Context) error {
		completion, err := o.deps.LLM.Complete(callCtx, BuildFollowUpPrompt(contextText, utterance, queryPrompt))
		if err != nil {
			return err
		}
		followUps = ParseFollowUps(completion)
		return nil
	})
	if err != nil {
		return Answer{}, err
	}

	return Answer{
		Text:        strings.TrimSpace(answerText),
		FollowUps:   followUps,
		SQL:         sqlText,
		QueryFailed: queryFailed,
		Entities:    entities,
	}, nil
}

// retrieve returns catalogue entities nearest to vector, nearest first. A
// neighbor without a catalogue row aborts the turn.
func (o *Orchestrator) retrieve(ctx context.Context, vector []float32) ([]catalog.Entity, error) {
	started := time.Now()
	defer o.finishStep(StepRetrieve, started)

	results, err := o.deps.Index.Query([][]float32{vector}, o.cfg.TopK)
	if err != nil {
		return nil, &TurnError{Step: StepRetrieve, Err: err}
	}
	if len(results) == 0 || len(results[0]) == 0 {
		return nil, nil
	}
	neighbors := results[0]

	ids := make([]int64, len(neighbors))
	for i, neighbor := range neighbors {
		ids[i] = neighbor.ID
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	rows, err := o.deps.Catalog.GetEntitiesByIDs(callCtx, ids)
	if err != nil {
		return nil, &TurnError{Step: StepRetrieve, Err: err}
	}

	entities := make([]catalog.Entity, 0, len(ids))
	var missing []int64
	for _, id := range ids {
		entity, ok := rows[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		entities = append(entities, entity)
	}
	if len(missing) > 0 {
		observability.IncrementCatalogueDesync()
		return nil, &TurnError{Step: StepRetrieve, Err: &DesyncError{IDs: missing}}
	}
	return entities, nil
}

// execute runs synthesized SQL. Any failure yields the QueryFailed sentinel and
// the turn carries on.
func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, sqlText string) (string, bool) {
	started := time.Now()
	defer o.finishStep(StepQueryExecution, started)

	fail := func(reason string, err error) (string, bool) {
		observability.IncrementQueryFailure(reason)
		logger.WarnContext(ctx, "synthesized query failed",
			slog.String("reason", reason),
			slog.String("sql", sqlText),
			slog.Any("error", err),
		)
		return QueryFailed, true
	}

	if strings.TrimSpace(sqlText) == "" {
		return fail("empty_sql", errors.New("model returned no SQL"))
	}
	statement, err := o.deps.Validator.Validate(sqlText)
	if err != nil {
		return fail("rejected", err)
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	result, err := o.deps.Engine.Execute(callCtx, query.Request{SQL: statement, RowLimit: o.cfg.RowLimit})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fail("timeout", err)
		}
		return fail("engine_error", err)
	}
	return RenderResult(result), false
}

func (o *Orchestrator) call(ctx context.Context, step Step, fn func(context.Context) error) error {
	started := time.Now()
	defer o.finishStep(step, started)

	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	if err := fn(callCtx); err != nil {
		return &TurnError{Step: step, Err: err}
	}
	return nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.CallTimeout)
}

func (o *Orchestrator) finishStep(step Step, started time.Time) {
	observability.ObserveTurnStep(string(step), time.Since(started))
}
