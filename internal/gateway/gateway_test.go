package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/metricsgate/metricsgate/internal/nlq"
	"github.com/metricsgate/metricsgate/internal/plan"
	"github.com/metricsgate/metricsgate/internal/schema"
)

type fakePlanner struct {
	heuristic    plan.Candidate
	relevant     bool
	classifyErr  error
	proposed     []plan.Candidate
	proposeErr   error
	repaired     plan.Candidate
	repairErr    error
	classifyHits int
	proposeHits  int
	repairHits   int
}

func (f *fakePlanner) Heuristic(question string) (plan.Candidate, bool) {
	if f.heuristic == nil {
		return nil, false
	}
	return f.heuristic, true
}

func (f *fakePlanner) Classify(ctx context.Context, question string) (bool, error) {
	f.classifyHits++
	return f.relevant, f.classifyErr
}

func (f *fakePlanner) Propose(ctx context.Context, question string, today time.Time) (plan.Candidate, error) {
	f.proposeHits++
	if f.proposeErr != nil {
		return nil, f.proposeErr
	}
	candidate := f.proposed[0]
	if len(f.proposed) > 1 {
		f.proposed = f.proposed[1:]
	}
	return candidate, nil
}

func (f *fakePlanner) Repair(ctx context.Context, question string, rejected plan.Candidate, reason error, today time.Time) (plan.Candidate, error) {
	f.repairHits++
	if f.repairErr != nil {
		return nil, f.repairErr
	}
	return f.repaired, nil
}

type fakeExecutor struct {
	value    int64
	err      error
	rendered []plan.Rendered
}

func (f *fakeExecutor) QueryScalar(ctx context.Context, rendered plan.Rendered) (int64, error) {
	f.rendered = append(f.rendered, rendered)
	if f.err != nil {
		return 0, f.err
	}
	return f.value, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validCandidate() plan.Candidate {
	return plan.PlanCandidate{Plan: plan.Plan{
		Source:      schema.TableVideos,
		Aggregation: schema.AggCountRows,
		Field:       "*",
		Filters: []plan.Filter{
			{Field: "views_count", Op: schema.OpGt, Value: int64(100000)},
		},
	}}
}

func brokenCandidate() plan.Candidate {
	return plan.PlanCandidate{Plan: plan.Plan{
		Source:      "users",
		Aggregation: schema.AggCountRows,
		Field:       "*",
	}}
}

func TestAnswerRunsValidatedCandidate(t *testing.T) {
	planner := &fakePlanner{relevant: true, proposed: []plan.Candidate{validCandidate()}}
	executor := &fakeExecutor{value: 42}
	g := New(planner, executor, time.Minute, testLogger())

	value, err := g.Answer(context.Background(), "сколько видео набрали больше 100000 просмотров", time.Time{})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if value != 42 {
		t.Fatalf("Answer() = %d, want 42", value)
	}
	if planner.classifyHits != 1 || planner.proposeHits != 1 {
		t.Fatalf("classify=%d propose=%d, want 1/1", planner.classifyHits, planner.proposeHits)
	}
	if len(executor.rendered) != 1 {
		t.Fatalf("executor calls = %d", len(executor.rendered))
	}
	if len(executor.rendered[0].Args) != 1 {
		t.Fatalf("rendered args = %v", executor.rendered[0].Args)
	}
}

func TestAnswerIrrelevantQuestionIsZeroWithoutQuery(t *testing.T) {
	planner := &fakePlanner{relevant: false}
	executor := &fakeExecutor{value: 99}
	g := New(planner, executor, time.Minute, testLogger())

	value, err := g.Answer(context.Background(), "как дела?", time.Time{})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if value != 0 {
		t.Fatalf("Answer() = %d, want 0", value)
	}
	if planner.proposeHits != 0 {
		t.Fatalf("propose hits = %d, want 0", planner.proposeHits)
	}
	if len(executor.rendered) != 0 {
		t.Fatal("irrelevant question must not reach the executor")
	}

	// The inner pipeline keeps the distinct outcome for metrics; Answer
	// swallows it before the caller sees anything.
	if _, err := g.answer(context.Background(), "как дела?", time.Time{}); !errors.Is(err, errIrrelevantQuestion) {
		t.Fatalf("answer() error = %v, want errIrrelevantQuestion", err)
	}
}

func TestAnswerHeuristicHitSkipsClassification(t *testing.T) {
	planner := &fakePlanner{heuristic: validCandidate()}
	executor := &fakeExecutor{value: 7}
	g := New(planner, executor, time.Minute, testLogger())

	value, err := g.Answer(context.Background(), "сколько всего видео?", time.Time{})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if value != 7 {
		t.Fatalf("Answer() = %d", value)
	}
	if planner.classifyHits != 0 || planner.proposeHits != 0 {
		t.Fatalf("classify=%d propose=%d, want 0/0", planner.classifyHits, planner.proposeHits)
	}
}

func TestAnswerRepairRoundRecovers(t *testing.T) {
	planner := &fakePlanner{
		relevant: true,
		proposed: []plan.Candidate{brokenCandidate()},
		repaired: validCandidate(),
	}
	executor := &fakeExecutor{value: 5}
	g := New(planner, executor, time.Minute, testLogger())

	value, err := g.Answer(context.Background(), "сколько видео?", time.Time{})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if value != 5 {
		t.Fatalf("Answer() = %d", value)
	}
	if planner.repairHits != 1 {
		t.Fatalf("repair hits = %d, want 1", planner.repairHits)
	}
}

func TestAnswerRepairedCandidateStillRejected(t *testing.T) {
	planner := &fakePlanner{
		relevant: true,
		proposed: []plan.Candidate{brokenCandidate()},
		repaired: brokenCandidate(),
	}
	executor := &fakeExecutor{}
	g := New(planner, executor, time.Minute, testLogger())

	_, err := g.Answer(context.Background(), "сколько видео?", time.Time{})
	if !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("Answer() error = %v, want ErrValidationRejected", err)
	}
	if len(executor.rendered) != 0 {
		t.Fatal("rejected candidate must not reach the executor")
	}
}

func TestAnswerMapsUpstreamErrors(t *testing.T) {
	planner := &fakePlanner{relevant: true, proposeErr: nlq.ErrUnavailable}
	g := New(planner, &fakeExecutor{}, time.Minute, testLogger())

	_, err := g.Answer(context.Background(), "сколько видео?", time.Time{})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("Answer() error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestAnswerMapsMalformedErrors(t *testing.T) {
	planner := &fakePlanner{relevant: true, proposeErr: nlq.ErrMalformed}
	g := New(planner, &fakeExecutor{}, time.Minute, testLogger())

	_, err := g.Answer(context.Background(), "сколько видео?", time.Time{})
	if !errors.Is(err, ErrMalformedCandidate) {
		t.Fatalf("Answer() error = %v, want ErrMalformedCandidate", err)
	}
}

func TestAnswerMapsClassifierOutage(t *testing.T) {
	planner := &fakePlanner{classifyErr: nlq.ErrUnavailable}
	g := New(planner, &fakeExecutor{}, time.Minute, testLogger())

	_, err := g.Answer(context.Background(), "сколько видео?", time.Time{})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("Answer() error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestAnswerMapsExecutionFailure(t *testing.T) {
	planner := &fakePlanner{heuristic: validCandidate()}
	executor := &fakeExecutor{err: errors.New("connection refused")}
	g := New(planner, executor, time.Minute, testLogger())

	_, err := g.Answer(context.Background(), "сколько видео?", time.Time{})
	if !errors.Is(err, ErrExecutionFailure) {
		t.Fatalf("Answer() error = %v, want ErrExecutionFailure", err)
	}
}

func TestOutcomeLabels(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "answered"},
		{errIrrelevantQuestion, "irrelevant"},
		{ErrUpstreamUnavailable, "upstream_unavailable"},
		{ErrMalformedCandidate, "malformed_candidate"},
		{ErrValidationRejected, "validation_rejected"},
		{ErrExecutionFailure, "execution_failure"},
		{errors.New("other"), "error"},
	}
	for _, tc := range tests {
		if got := outcomeLabel(tc.err); got != tc.want {
			t.Fatalf("outcomeLabel(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
