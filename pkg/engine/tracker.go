package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/catletctl/pkg/telemetry"
)

const (
	// DefaultOperationTimeout bounds the wait for one remote operation.
	DefaultOperationTimeout = 600 * time.Second

	// DefaultPollInterval is the delay between operation polls.
	DefaultPollInterval = 2 * time.Second
)

// Tracker drives one remote operation from submission to a terminal outcome.
// A Tracker holds no per-operation state and may be shared.
type Tracker struct {
	api      ComputeAPI
	timeout  time.Duration
	interval time.Duration
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTimeout sets the default wait timeout.
func WithTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithPollInterval sets the poll interval.
func WithPollInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTrackerMetrics sets the metrics collector.
func WithTrackerMetrics(m *telemetry.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// WithTrackerTracer sets the tracer.
func WithTrackerTracer(tr *telemetry.Tracer) TrackerOption {
	return func(t *Tracker) { t.tracer = tr }
}

// NewTracker creates a tracker polling api.
func NewTracker(api ComputeAPI, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		api:      api,
		timeout:  DefaultOperationTimeout,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Timeout returns the default wait timeout.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// Wait polls the operation until it completes, fails, or the default
// timeout elapses. See WaitFor.
func (t *Tracker) Wait(ctx context.Context, operationID string, events chan<- ProgressEvent) (*OperationResult, error) {
	return t.WaitFor(ctx, operationID, t.timeout, events)
}

// WaitFor polls the operation until it reaches a terminal status or timeout
// elapses.
//
// Progress events are sent to events (which may be nil) without blocking; an
// event is dropped when the channel is full. A completed operation yields an
// OperationResult. A failed operation yields an OperationFailedError carrying
// the remote message. Elapsing the timeout yields a TimeoutError carrying the
// last snapshot. Cancelling ctx returns the context error wrapped with the
// operation id. The remote operation itself is never cancelled.
func (t *Tracker) WaitFor(ctx context.Context, operationID string, timeout time.Duration, events chan<- ProgressEvent) (*OperationResult, error) {
	if timeout <= 0 {
		timeout = t.timeout
	}

	ctx, span := t.tracer.StartOperationSpan(ctx, operationID)
	var waitErr error
	defer func() { telemetry.EndSpan(span, waitErr) }()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	progress := newProgressState(operationID, events, t.metrics)
	var last *Operation

	for {
		op, err := t.api.GetOperation(waitCtx, operationID, progress.cursor)
		if err != nil {
			if waitCtx.Err() != nil {
				waitErr = t.deadlineError(ctx, operationID, timeout, last)
				return nil, waitErr
			}
			waitErr = fmt.Errorf("failed to poll operation %s: %w", operationID, err)
			return nil, waitErr
		}
		last = op
		progress.observe(op)

		switch op.Status {
		case OperationCompleted:
			log.Debug().
				Str("operation_id", operationID).
				Msg("Operation completed")
			return NewOperationResult(op), nil
		case OperationFailed:
			log.Debug().
				Str("operation_id", operationID).
				Str("status_message", op.StatusMessage).
				Msg("Operation failed")
			waitErr = NewOperationFailedError(op).WithCatlet(op.CatletID())
			return nil, waitErr
		}

		select {
		case <-waitCtx.Done():
			waitErr = t.deadlineError(ctx, operationID, timeout, last)
			return nil, waitErr
		case <-ticker.C:
		}
	}
}

func (t *Tracker) deadlineError(parent context.Context, operationID string, timeout time.Duration, last *Operation) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("stopped waiting for operation %s: %w", operationID, err)
	}
	log.Warn().
		Str("operation_id", operationID).
		Dur("timeout", timeout).
		Msg("Timed out waiting for operation")
	return NewTimeoutError(fmt.Sprintf("operation did not finish within %s", timeout), context.DeadlineExceeded).
		WithOperation(operationID).
		WithSnapshot(last).
		WithCatlet(last.CatletID())
}

// progressState remembers what has been reported for one operation so that
// each resource, task change and log line is emitted once.
type progressState struct {
	operationID string
	events      chan<- ProgressEvent
	metrics     *telemetry.Metrics

	resources map[ResourceRef]bool
	tasks     map[string]Task

	// cursor is the newest log timestamp seen; cursorIDs holds the ids of
	// entries with exactly that timestamp.
	cursor    time.Time
	cursorIDs map[string]bool
}

func newProgressState(operationID string, events chan<- ProgressEvent, metrics *telemetry.Metrics) *progressState {
	return &progressState{
		operationID: operationID,
		events:      events,
		metrics:     metrics,
		resources:   make(map[ResourceRef]bool),
		tasks:       make(map[string]Task),
		cursorIDs:   make(map[string]bool),
	}
}

func (p *progressState) observe(op *Operation) {
	for _, r := range op.Resources {
		if p.resources[r] {
			continue
		}
		p.resources[r] = true
		res := r
		p.send(ProgressEvent{Kind: ProgressResourceAttached, OperationID: p.operationID, Resource: &res})
	}

	for _, task := range op.Tasks {
		prev, seen := p.tasks[task.ID]
		if seen && prev == task {
			continue
		}
		p.tasks[task.ID] = task
		kind := ProgressTaskUpdated
		if !seen {
			kind = ProgressTaskStarted
		}
		tk := task
		p.send(ProgressEvent{Kind: kind, OperationID: p.operationID, Task: &tk})
	}

	entries := append([]LogEntry(nil), op.LogEntries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	for _, entry := range entries {
		if entry.Timestamp.Before(p.cursor) {
			continue
		}
		if entry.Timestamp.Equal(p.cursor) && p.cursorIDs[entry.ID] {
			continue
		}
		if entry.Timestamp.After(p.cursor) {
			p.cursor = entry.Timestamp
			p.cursorIDs = make(map[string]bool)
		}
		p.cursorIDs[entry.ID] = true
		le := entry
		p.send(ProgressEvent{Kind: ProgressLogLine, OperationID: p.operationID, Log: &le})
	}
}

func (p *progressState) send(ev ProgressEvent) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.metrics.RecordEventDropped()
	}
}
