package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(api ComputeAPI, opts ...TrackerOption) *Tracker {
	return NewTracker(api, append([]TrackerOption{WithPollInterval(time.Millisecond)}, opts...)...)
}

func TestTrackerCompletesAfterScriptedSnapshots(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	api := &scriptedCompute{snapshots: []*Operation{
		{ID: "op-1", Status: OperationPending},
		{
			ID:     "op-1",
			Status: OperationRunning,
			Tasks:  []Task{{ID: "t1", Name: "CreateCatlet", Progress: -1}},
			LogEntries: []LogEntry{
				{ID: "l1", Message: "preparing", Timestamp: t0},
			},
		},
		{
			ID:        "op-1",
			Status:    OperationRunning,
			Resources: []ResourceRef{{Type: ResourceCatlet, ID: "c-1"}},
			Tasks:     []Task{{ID: "t1", Name: "CreateCatlet", Progress: 50}},
			LogEntries: []LogEntry{
				{ID: "l1", Message: "preparing", Timestamp: t0},
				{ID: "l2", Message: "copying disk", Timestamp: t0.Add(time.Second)},
			},
		},
		{
			ID:        "op-1",
			Status:    OperationCompleted,
			Resources: []ResourceRef{{Type: ResourceCatlet, ID: "c-1"}},
			Tasks:     []Task{{ID: "t1", Name: "CreateCatlet", Progress: 100}},
			LogEntries: []LogEntry{
				{ID: "l2", Message: "copying disk", Timestamp: t0.Add(time.Second)},
			},
		},
	}}

	events := make(chan ProgressEvent, 32)
	result, err := newTestTracker(api).Wait(context.Background(), "op-1", events)
	require.NoError(t, err)
	require.NotNil(t, result)
	close(events)

	assert.Equal(t, 4, api.pollCount(), "tracker must stop polling after the terminal snapshot")
	assert.Equal(t, OperationCompleted, result.Status())
	assert.Equal(t, "c-1", result.CatletID())

	var kinds []ProgressKind
	var logs []string
	var progress []int
	for ev := range events {
		assert.Equal(t, "op-1", ev.OperationID)
		kinds = append(kinds, ev.Kind)
		switch ev.Kind {
		case ProgressLogLine:
			logs = append(logs, ev.Log.Message)
		case ProgressTaskStarted, ProgressTaskUpdated:
			progress = append(progress, ev.Task.Progress)
		}
	}

	assert.Equal(t, []ProgressKind{
		ProgressTaskStarted,
		ProgressLogLine,
		ProgressResourceAttached,
		ProgressTaskUpdated,
		ProgressLogLine,
		ProgressTaskUpdated,
	}, kinds)
	assert.Equal(t, []string{"preparing", "copying disk"}, logs)
	assert.Equal(t, []int{-1, 50, 100}, progress)

	// The log cursor advances with the newest timestamp seen.
	assert.True(t, api.since[0].IsZero())
	assert.Equal(t, t0.Add(time.Second), api.since[3])
}

func TestTrackerFailedOperation(t *testing.T) {
	api := &scriptedCompute{snapshots: []*Operation{
		{ID: "op-2", Status: OperationRunning},
		{
			ID:            "op-2",
			Status:        OperationFailed,
			StatusMessage: "Parent gene 'dbosoft/ubuntu-22.04' not found",
		},
	}}

	result, err := newTestTracker(api).Wait(context.Background(), "op-2", nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsOperationFailed(err))
	assert.False(t, IsTimeout(err))
	assert.ErrorIs(t, err, ErrOperationFailed)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "Parent gene 'dbosoft/ubuntu-22.04' not found", e.Message)
	assert.Equal(t, "op-2", e.OperationID)
	assert.Contains(t, err.Error(), "operation=op-2")
}

func TestTrackerTimeoutCarriesSnapshot(t *testing.T) {
	api := &scriptedCompute{snapshots: []*Operation{{
		ID:        "op-3",
		Status:    OperationRunning,
		Resources: []ResourceRef{{Type: ResourceCatlet, ID: "c-9"}},
	}}}

	start := time.Now()
	_, err := newTestTracker(api).WaitFor(context.Background(), "op-3", 30*time.Millisecond, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, IsTimeout(err))
	assert.False(t, IsOperationFailed(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap := SnapshotOf(err)
	require.NotNil(t, snap)
	assert.Equal(t, "c-9", snap.CatletID())
	assert.Equal(t, OperationRunning, snap.Status)
}

func TestTrackerCancellation(t *testing.T) {
	api := &scriptedCompute{snapshots: []*Operation{{ID: "op-4", Status: OperationRunning}}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestTracker(api).WaitFor(ctx, "op-4", time.Minute, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "op-4")
}

func TestTrackerFullChannelNeverBlocks(t *testing.T) {
	var entries []LogEntry
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		entries = append(entries, LogEntry{ID: fmt.Sprintf("l%d", i), Message: "line", Timestamp: base.Add(time.Duration(i) * time.Millisecond)})
	}
	api := &scriptedCompute{snapshots: []*Operation{
		{ID: "op-5", Status: OperationCompleted, LogEntries: entries},
	}}

	events := make(chan ProgressEvent, 1)
	done := make(chan error, 1)
	go func() {
		_, err := newTestTracker(api).Wait(context.Background(), "op-5", events)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tracker blocked on a full progress channel")
	}
	assert.Len(t, events, 1)
}

func TestTrackerLogDedupAtSameTimestamp(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	api := &scriptedCompute{snapshots: []*Operation{
		{ID: "op-6", Status: OperationRunning, LogEntries: []LogEntry{
			{ID: "a", Message: "first", Timestamp: ts},
		}},
		{ID: "op-6", Status: OperationRunning, LogEntries: []LogEntry{
			{ID: "a", Message: "first", Timestamp: ts},
			{ID: "b", Message: "second", Timestamp: ts},
		}},
		{ID: "op-6", Status: OperationCompleted, LogEntries: []LogEntry{
			{ID: "b", Message: "second", Timestamp: ts},
		}},
	}}

	events := make(chan ProgressEvent, 16)
	_, err := newTestTracker(api).Wait(context.Background(), "op-6", events)
	require.NoError(t, err)
	close(events)

	var logs []string
	for ev := range events {
		if ev.Kind == ProgressLogLine {
			logs = append(logs, ev.Log.Message)
		}
	}
	assert.Equal(t, []string{"first", "second"}, logs)
}

func TestTrackerPollErrorPropagates(t *testing.T) {
	connErr := NewConnectionError("compute endpoint unreachable", errors.New("dial tcp: refused"))
	api := &scriptedCompute{err: connErr}

	_, err := newTestTracker(api).Wait(context.Background(), "op-7", nil)
	require.Error(t, err)
	assert.True(t, IsConnection(err))
	assert.Contains(t, err.Error(), "op-7")
}

func TestTrackerTerminalOperationIsIdempotent(t *testing.T) {
	api := &scriptedCompute{snapshots: []*Operation{{
		ID:        "op-8",
		Status:    OperationCompleted,
		Resources: []ResourceRef{{Type: ResourceCatlet, ID: "c-8"}},
	}}}
	tracker := newTestTracker(api)

	first, err := tracker.Wait(context.Background(), "op-8", nil)
	require.NoError(t, err)
	second, err := tracker.Wait(context.Background(), "op-8", nil)
	require.NoError(t, err)

	assert.Equal(t, first.Snapshot(), second.Snapshot())
	assert.Equal(t, 2, api.pollCount())
}

func TestTrackerDefaultTimeout(t *testing.T) {
	tracker := NewTracker(newFakeCompute())
	assert.Equal(t, 600*time.Second, tracker.Timeout())
}
