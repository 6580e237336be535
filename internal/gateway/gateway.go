// Package gateway turns a free-form analytics question into exactly one
// number. It chains candidate production, validation, rendering and
// execution, and collapses every failure into a small error taxonomy the
// HTTP layer can map to responses.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metricsgate/metricsgate/internal/nlq"
	"github.com/metricsgate/metricsgate/internal/observability"
	"github.com/metricsgate/metricsgate/internal/plan"
)

var (
	// ErrUpstreamUnavailable reports that the model endpoint stayed
	// unreachable after the bounded retry budget.
	ErrUpstreamUnavailable = errors.New("model endpoint unavailable")
	// ErrMalformedCandidate reports that the model kept answering with
	// output no candidate could be extracted from.
	ErrMalformedCandidate = errors.New("model produced no usable candidate")
	// ErrValidationRejected reports that every produced candidate failed
	// validation, including the repair round.
	ErrValidationRejected = errors.New("candidate rejected by validation")
	// ErrExecutionFailure reports that a validated query failed against
	// the database.
	ErrExecutionFailure = errors.New("query execution failed")
)

// errIrrelevantQuestion flows out of answer so the metrics outcome can tell
// irrelevant questions apart from answered ones. Answer swallows it; callers
// only ever see the zero value.
var errIrrelevantQuestion = errors.New("question not about video analytics")

// Planner produces query candidates for a question. *nlq.Client is the
// production implementation.
type Planner interface {
	Heuristic(question string) (plan.Candidate, bool)
	Classify(ctx context.Context, question string) (bool, error)
	Propose(ctx context.Context, question string, today time.Time) (plan.Candidate, error)
	Repair(ctx context.Context, question string, rejected plan.Candidate, reason error, today time.Time) (plan.Candidate, error)
}

// ScalarExecutor runs a rendered query and returns its single value.
type ScalarExecutor interface {
	QueryScalar(ctx context.Context, rendered plan.Rendered) (int64, error)
}

type Gateway struct {
	planner  Planner
	executor ScalarExecutor
	timeout  time.Duration
	logger   *slog.Logger
}

func New(planner Planner, executor ScalarExecutor, timeout time.Duration, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{planner: planner, executor: executor, timeout: timeout, logger: logger}
}

// Answer resolves a question to exactly one number. Irrelevant questions
// answer 0 without touching the database. askedAt anchors relative date
// phrases; the zero value means now.
func (g *Gateway) Answer(ctx context.Context, question string, askedAt time.Time) (int64, error) {
	start := time.Now()
	value, err := g.answer(ctx, question, askedAt)
	observability.ObserveQuestion(outcomeLabel(err), time.Since(start))
	if errors.Is(err, errIrrelevantQuestion) {
		return 0, nil
	}
	return value, err
}

func (g *Gateway) answer(ctx context.Context, question string, askedAt time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if askedAt.IsZero() {
		askedAt = time.Now().UTC()
	}

	candidate, fromHeuristic := g.planner.Heuristic(question)
	if !fromHeuristic {
		relevant, err := g.planner.Classify(ctx, question)
		if err != nil {
			return 0, classifyError(err)
		}
		if !relevant {
			g.logger.InfoContext(ctx, "question_irrelevant", slog.String("question", question))
			return 0, errIrrelevantQuestion
		}

		candidate, err = g.planner.Propose(ctx, question, askedAt)
		if err != nil {
			return 0, classifyError(err)
		}
	}

	validated, err := plan.Validate(candidate)
	if err != nil {
		var rejection *plan.ValidationError
		if !errors.As(err, &rejection) {
			return 0, fmt.Errorf("%w: %v", ErrValidationRejected, err)
		}
		g.logger.WarnContext(ctx, "candidate_rejected",
			slog.String("rule", rejection.Rule),
			slog.String("candidate", candidate.Describe()),
		)

		observability.IncrementRepairRound()
		repaired, repairErr := g.planner.Repair(ctx, question, candidate, rejection, askedAt)
		if repairErr != nil {
			return 0, classifyError(repairErr)
		}
		validated, err = plan.Validate(repaired)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrValidationRejected, err)
		}
	}

	rendered := plan.Render(validated)

	queryStart := time.Now()
	value, err := g.executor.QueryScalar(ctx, rendered)
	observability.ObserveQuery(time.Since(queryStart))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExecutionFailure, err)
	}

	g.logger.InfoContext(ctx, "question_answered",
		slog.String("question", question),
		slog.Bool("heuristic", fromHeuristic),
		slog.Int64("value", value),
	)
	return value, nil
}

func classifyError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, nlq.ErrMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedCandidate, err)
	case errors.Is(err, nlq.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "answered"
	case errors.Is(err, errIrrelevantQuestion):
		return "irrelevant"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrMalformedCandidate):
		return "malformed_candidate"
	case errors.Is(err, ErrValidationRejected):
		return "validation_rejected"
	case errors.Is(err, ErrExecutionFailure):
		return "execution_failure"
	default:
		return "error"
	}
}
