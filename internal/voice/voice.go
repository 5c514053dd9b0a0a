// Package voice is the command subsystem's front door. It chains the
// parser, resolver, clarification gate, and executor into a single
// [Pipeline] that turns a transcript into either an applied mutation, a
// question back to the user, or a refusal.
//
// A pipeline call never mutates anything before the gate has passed: low
// parse confidence asks for confirmation, a near-tie in name matching asks
// for a choice, and both park the command in a [clarify.PendingStore] until
// the user answers or the entry expires.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lessonbook/lessonbook/internal/observe"
	"github.com/lessonbook/lessonbook/internal/schedule"
	"github.com/lessonbook/lessonbook/internal/voice/clarify"
	"github.com/lessonbook/lessonbook/internal/voice/executor"
	"github.com/lessonbook/lessonbook/internal/voice/parser"
	"github.com/lessonbook/lessonbook/internal/voice/resolver"
)

// Snapshot window around the reference date. Thirty days back covers
// corrections to recent lessons; ninety days ahead covers reschedules into
// the future.
const (
	snapshotBackDays  = 30
	snapshotAheadDays = 90
)

// Status is the machine-readable disposition of a pipeline call.
type Status string

const (
	// StatusSuccess means the command was applied (or there was nothing
	// left to do).
	StatusSuccess Status = "success"

	// StatusNeedsConfirmation means the command is parked awaiting a
	// yes/no answer.
	StatusNeedsConfirmation Status = "needs_confirmation"

	// StatusNeedsClarification means the command is parked awaiting a
	// choice between options.
	StatusNeedsClarification Status = "needs_clarification"

	// StatusError means the command could not be understood or applied.
	StatusError Status = "error"
)

// Option is one selectable answer to a clarification question.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Result is what a pipeline call hands back to the surface that invoked it.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`

	// Options is set for StatusNeedsClarification.
	Options []Option `json:"options,omitempty"`

	// PendingToken resumes a parked command via [Pipeline.Resume],
	// [Pipeline.Confirm], or [Pipeline.Cancel].
	PendingToken string `json:"pending_token,omitempty"`
}

// Pipeline wires the command stages together over a [schedule.Store].
type Pipeline struct {
	store   schedule.Store
	exec    *executor.Executor
	pending *clarify.PendingStore
	metrics *observe.Metrics
	log     *slog.Logger

	confidenceThreshold float64
	resolverOpts        resolver.Options
}

// PipelineOption configures a [Pipeline].
type PipelineOption func(*Pipeline)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) PipelineOption {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithConfidenceThreshold overrides the execution gate.
func WithConfidenceThreshold(threshold float64) PipelineOption {
	return func(p *Pipeline) {
		if threshold > 0 {
			p.confidenceThreshold = threshold
		}
	}
}

// WithResolverOptions overrides the name-matching knobs.
func WithResolverOptions(opts resolver.Options) PipelineOption {
	return func(p *Pipeline) { p.resolverOpts = opts }
}

// WithPendingStore replaces the pending-command store, e.g. to shorten the
// TTL.
func WithPendingStore(s *clarify.PendingStore) PipelineOption {
	return func(p *Pipeline) {
		if s != nil {
			p.pending = s
		}
	}
}

// NewPipeline returns a pipeline over store with default gates.
func NewPipeline(store schedule.Store, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:               store,
		pending:             clarify.NewPendingStore(),
		log:                 slog.Default(),
		confidenceThreshold: clarify.DefaultConfidenceThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.exec = executor.New(store, executor.WithLogger(p.log))
	return p
}

// Handle processes a fresh transcript. referenceDateKey anchors relative
// dates ("tomorrow") so replaying the same transcript with the same
// reference yields the same command.
func (p *Pipeline) Handle(ctx context.Context, transcript, referenceDateKey string) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "voice.handle")
	defer span.End()

	start := time.Now()
	payload := parser.Parse(transcript, referenceDateKey)
	p.metrics.ParseDuration.Record(ctx, time.Since(start).Seconds())

	p.log.DebugContext(ctx, "parsed transcript",
		"intent", payload.Intent, "lang", payload.Lang, "confidence", payload.Confidence)

	return p.resolveAndGate(ctx, payload, resolver.Hint{}, referenceDateKey, false)
}

// Resume answers a clarification question: optionID is one of the IDs from
// [Result.Options]. The chosen fact is folded into a re-resolution against
// current data, so a resume can itself come back with a new question.
func (p *Pipeline) Resume(ctx context.Context, token, optionID string) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "voice.resume")
	defer span.End()

	pend, res, ok := p.takePending(ctx, token)
	if !ok {
		return res, nil
	}

	cand, ok := pend.ValidOption(optionID)
	if !ok {
		// The command is gone either way; Take is single-use.
		return Result{Status: StatusError,
			Message: fmt.Sprintf("%q is not one of the offered options", optionID)}, nil
	}

	hint := pend.Hint
	switch cand.Kind {
	case resolver.CandidateStudent:
		hint.StudentID = cand.ID
	case resolver.CandidateInterpretation:
		rate := cand.ID == "rate"
		hint.ApplyToRate = &rate
	}

	return p.resolveAndGate(ctx, pend.Payload, hint, pend.ReferenceDateKey, false)
}

// Confirm answers a yes/no confirmation. accept=false discards the command.
func (p *Pipeline) Confirm(ctx context.Context, token string, accept bool) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "voice.confirm")
	defer span.End()

	pend, res, ok := p.takePending(ctx, token)
	if !ok {
		return res, nil
	}
	if !accept {
		p.metrics.RecordCommand(ctx, string(pend.Payload.Intent), "declined")
		return Result{Status: StatusSuccess, Message: "Okay, nothing was changed."}, nil
	}

	// The user has confirmed the command as summarised, so the confidence
	// gate no longer applies; ambiguity checks still do.
	return p.resolveAndGate(ctx, pend.Payload, pend.Hint, pend.ReferenceDateKey, true)
}

// Cancel discards a parked command.
func (p *Pipeline) Cancel(ctx context.Context, token string) (Result, error) {
	pend, res, ok := p.takePending(ctx, token)
	if !ok {
		return res, nil
	}
	p.metrics.RecordCommand(ctx, string(pend.Payload.Intent), "canceled")
	return Result{Status: StatusSuccess, Message: "Okay, nothing was changed."}, nil
}

// takePending consumes a token. ok=false means res already carries the
// error result.
func (p *Pipeline) takePending(ctx context.Context, token string) (clarify.Pending, Result, bool) {
	pend, err := p.pending.Take(token)
	switch {
	case errors.Is(err, clarify.ErrPendingExpired):
		p.metrics.PendingOpen.Add(ctx, -1)
		return clarify.Pending{}, Result{Status: StatusError,
			Message: "That command has expired; please repeat it."}, false
	case errors.Is(err, clarify.ErrNoPending):
		return clarify.Pending{}, Result{Status: StatusError,
			Message: "There is no pending command for that token."}, false
	case err != nil:
		return clarify.Pending{}, Result{Status: StatusError, Message: err.Error()}, false
	}
	p.metrics.PendingOpen.Add(ctx, -1)
	return pend, Result{}, true
}

// resolveAndGate runs resolution over a fresh snapshot and routes the
// outcome through the clarification gate. confirmed bypasses the confidence
// check only; ambiguity and not-found handling are identical to a first
// pass.
func (p *Pipeline) resolveAndGate(ctx context.Context, payload parser.Payload, hint resolver.Hint, referenceDateKey string, confirmed bool) (Result, error) {
	start := time.Now()
	snap, err := p.loadSnapshot(ctx, referenceDateKey)
	if err != nil {
		p.metrics.RecordCommand(ctx, string(payload.Intent), "error")
		return Result{Status: StatusError, Message: "Could not load schedule data."},
			fmt.Errorf("voice: load snapshot: %w", err)
	}
	out := resolver.ResolveWith(payload, snap, p.resolverOpts, hint)
	p.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds())

	disposition := clarify.Classify(out, p.confidenceThreshold)
	if disposition == clarify.DispositionConfirm && confirmed {
		disposition = clarify.DispositionExecute
	}

	switch disposition {
	case clarify.DispositionExecute:
		return p.execute(ctx, out.Command)

	case clarify.DispositionConfirm:
		token := p.pending.Put(clarify.Pending{
			Payload:          payload,
			Hint:             hint,
			ReferenceDateKey: referenceDateKey,
		})
		p.metrics.PendingOpen.Add(ctx, 1)
		return Result{
			Status:       StatusNeedsConfirmation,
			Message:      fmt.Sprintf("Just to confirm: %s?", out.Command.Summary),
			PendingToken: token,
		}, nil

	case clarify.DispositionChoose:
		token := p.pending.Put(clarify.Pending{
			Payload:          payload,
			Hint:             hint,
			ReferenceDateKey: referenceDateKey,
			Options:          out.Candidates,
		})
		p.metrics.PendingOpen.Add(ctx, 1)
		p.metrics.RecordAmbiguity(ctx, ambiguityKind(out.Candidates))
		return Result{
			Status:       StatusNeedsClarification,
			Message:      choosePrompt(out),
			Options:      toOptions(out.Candidates),
			PendingToken: token,
		}, nil

	default:
		p.metrics.RecordCommand(ctx, string(payload.Intent), "rejected")
		msg := out.Reason
		if msg == "" {
			msg = "Sorry, I did not understand that."
		}
		return Result{Status: StatusError, Message: msg}, nil
	}
}

func (p *Pipeline) execute(ctx context.Context, cmd *resolver.Command) (Result, error) {
	start := time.Now()
	res, err := p.exec.Execute(ctx, cmd)
	p.metrics.ExecuteDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordCommand(ctx, string(cmd.Intent), "error")
		p.log.ErrorContext(ctx, "command execution failed", "intent", cmd.Intent, "error", err)
		return Result{Status: StatusError, Message: "The command could not be applied."}, err
	}

	p.metrics.RecordCommand(ctx, string(cmd.Intent), "success")
	p.metrics.RecordDuplicatesCleaned(ctx, res.CleanedDuplicates)
	p.log.InfoContext(ctx, "command applied",
		"intent", cmd.Intent, "applied", res.Applied, "skipped", res.Skipped,
		"cleaned", res.CleanedDuplicates, "item_errors", len(res.ItemErrors))
	return Result{Status: StatusSuccess, Message: res.Message}, nil
}

// loadSnapshot reads the roster plus lessons in a window around the
// reference date.
func (p *Pipeline) loadSnapshot(ctx context.Context, referenceDateKey string) (resolver.Snapshot, error) {
	students, err := p.store.Students(ctx)
	if err != nil {
		return resolver.Snapshot{}, fmt.Errorf("students: %w", err)
	}
	from, err := schedule.AddDays(referenceDateKey, -snapshotBackDays)
	if err != nil {
		return resolver.Snapshot{}, fmt.Errorf("reference date %q: %w", referenceDateKey, err)
	}
	to, _ := schedule.AddDays(referenceDateKey, snapshotAheadDays)
	lessons, err := p.store.LessonsInRange(ctx, from, to)
	if err != nil {
		return resolver.Snapshot{}, fmt.Errorf("lessons in range: %w", err)
	}
	return resolver.Snapshot{
		Students:         students,
		Lessons:          lessons,
		ReferenceDateKey: referenceDateKey,
	}, nil
}

func choosePrompt(out resolver.Outcome) string {
	if len(out.Candidates) > 0 && out.Candidates[0].Kind == resolver.CandidateInterpretation {
		return "Should that be the lesson amount or the hourly rate?"
	}
	return fmt.Sprintf("Which student did you mean by %q?", out.Fragment)
}

func ambiguityKind(cands []resolver.Candidate) string {
	if len(cands) > 0 && cands[0].Kind == resolver.CandidateInterpretation {
		return "interpretation"
	}
	return "student"
}

func toOptions(cands []resolver.Candidate) []Option {
	opts := make([]Option, len(cands))
	for i, c := range cands {
		opts[i] = Option{ID: c.ID, Label: c.Label}
	}
	return opts
}
