// internal/queue/payout/orchestrator_test.go
package payout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lending-queue/internal/common/errors"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPacing = 30 * time.Millisecond

// fakeRail records every disbursement call and can fail selected ids.
type fakeRail struct {
	mu       sync.Mutex
	starts   map[string]time.Time
	ends     map[string]time.Time
	order    []string
	inFlight int32
	maxSeen  int32
	failIDs  map[string]error
	delay    time.Duration
}

func newFakeRail() *fakeRail {
	return &fakeRail{
		starts:  make(map[string]time.Time),
		ends:    make(map[string]time.Time),
		failIDs: make(map[string]error),
	}
}

func (f *fakeRail) disburse(_ context.Context, id string) (Receipt, error) {
	now := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if now <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, now) {
			break
		}
	}

	f.mu.Lock()
	f.starts[id] = time.Now()
	f.order = append(f.order, id)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.ends[id] = time.Now()
	err := f.failIDs[id]
	f.mu.Unlock()

	atomic.AddInt32(&f.inFlight, -1)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{TransferID: "txn-" + id}, nil
}

type fakeSelection struct {
	cleared int
}

func (f *fakeSelection) Clear() { f.cleared++ }

func readyStatuses(ids ...string) map[string]models.Status {
	out := make(map[string]models.Status, len(ids))
	for _, id := range ids {
		out[id] = models.StatusReadyForDisbursement
	}
	return out
}

func newOrchestrator(t *testing.T, sel SelectionClearer) *Orchestrator {
	return New(testPacing, time.Second, sel, logger.NewTestLogger(t), nil)
}

func TestRun_RequiresConfirmation(t *testing.T) {
	o := newOrchestrator(t, nil)
	rail := newFakeRail()

	_, err := o.Run(context.Background(), Request{
		IDs:          []string{"A"},
		LatestStatus: readyStatuses("A"),
	}, rail.disburse, Callbacks{})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBatchNotConfirmed, errors.CodeOf(err))
	assert.Empty(t, rail.order)
}

func TestRun_RejectsEmptyEligibleSet(t *testing.T) {
	o := newOrchestrator(t, nil)
	rail := newFakeRail()

	_, err := o.Run(context.Background(), Request{
		IDs:          []string{"A", "B"},
		LatestStatus: map[string]models.Status{"A": models.StatusSubmitted, "B": models.StatusOverdue},
		Confirmed:    true,
	}, rail.disburse, Callbacks{})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmptyBatch, errors.CodeOf(err))
	assert.Empty(t, rail.order)
}

func TestRun_ProcessesSequentiallyWithPacing(t *testing.T) {
	o := newOrchestrator(t, nil)
	rail := newFakeRail()
	rail.delay = 10 * time.Millisecond

	ids := []string{"A", "B", "C", "D"}
	result, err := o.Run(context.Background(), Request{
		IDs:          ids,
		LatestStatus: readyStatuses(ids...),
		Confirmed:    true,
	}, rail.disburse, Callbacks{})

	require.NoError(t, err)
	assert.Equal(t, ids, rail.order, "ids must be processed in order")
	assert.Equal(t, ids, result.Success)
	assert.EqualValues(t, 1, rail.maxSeen, "never two disbursement calls in flight")

	// Each call starts only after the pacing interval following the
	// previous call's completion.
	for i := 1; i < len(ids); i++ {
		gap := rail.starts[ids[i]].Sub(rail.ends[ids[i-1]])
		assert.GreaterOrEqual(t, gap, testPacing,
			"call %d started %v after call %d completed", i, gap, i-1)
	}
}

func TestRun_FailureDoesNotAbortSiblings(t *testing.T) {
	o := newOrchestrator(t, nil)
	rail := newFakeRail()
	rail.failIDs["id2"] = fmt.Errorf("insufficient rail balance")

	result, err := o.Run(context.Background(), Request{
		IDs:          []string{"id1", "id2", "id3"},
		LatestStatus: readyStatuses("id1", "id2", "id3"),
		Confirmed:    true,
	}, rail.disburse, Callbacks{})

	require.NoError(t, err)
	assert.Equal(t, []string{"id1", "id2", "id3"}, rail.order)
	assert.Equal(t, []string{"id1", "id3"}, result.Success)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "id2", result.Failed[0].ID)
	assert.Equal(t, "insufficient rail balance", result.Failed[0].Error)

	// Pacing still applies after the failure.
	gap := rail.starts["id3"].Sub(rail.ends["id2"])
	assert.GreaterOrEqual(t, gap, testPacing)
}

func TestRun_AccountsForEveryID(t *testing.T) {
	o := newOrchestrator(t, nil)
	rail := newFakeRail()
	rail.failIDs["B"] = fmt.Errorf("rail 502")
	rail.failIDs["D"] = fmt.Errorf("rail 502")

	ids := []string{"A", "B", "C", "D", "E"}
	result, err := o.Run(context.Background(), Request{
		IDs:          ids,
		LatestStatus: readyStatuses(ids...),
		Confirmed:    true,
	}, rail.disburse, Callbacks{})

	require.NoError(t, err)
	assert.Len(t, rail.order, len(ids), "exactly one call per id")
	assert.Equal(t, len(ids), len(result.Success)+len(result.Failed))
}

func TestRun_StaleIneligibleIDIsRejectedWithoutACall(t *testing.T) {
	o := newOrchestrator(t, nil)
	rail := newFakeRail()

	result, err := o.Run(context.Background(), Request{
		IDs: []string{"A", "B"},
		LatestStatus: map[string]models.Status{
			"A": models.StatusReadyForDisbursement,
			"B": models.StatusSubmitted,
		},
		Confirmed: true,
	}, rail.disburse, Callbacks{})

	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, rail.order, "no rail call for the stale id")
	assert.Equal(t, []string{"A"}, result.Success)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "B", result.Failed[0].ID)
	assert.Equal(t, 2, len(result.Success)+len(result.Failed))
}

func TestRun_ClearsSelectionRegardlessOfOutcome(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		sel := &fakeSelection{}
		o := newOrchestrator(t, sel)
		rail := newFakeRail()

		_, err := o.Run(context.Background(), Request{
			IDs: []string{"A"}, LatestStatus: readyStatuses("A"), Confirmed: true,
		}, rail.disburse, Callbacks{})
		require.NoError(t, err)
		assert.Equal(t, 1, sel.cleared)
	})

	t.Run("all fail", func(t *testing.T) {
		sel := &fakeSelection{}
		o := newOrchestrator(t, sel)
		rail := newFakeRail()
		rail.failIDs["A"] = fmt.Errorf("down")

		result, err := o.Run(context.Background(), Request{
			IDs: []string{"A"}, LatestStatus: readyStatuses("A"), Confirmed: true,
		}, rail.disburse, Callbacks{})
		require.NoError(t, err)
		assert.Equal(t, "failure", result.Classification())
		assert.Equal(t, 1, sel.cleared)
	})
}

func TestRun_Callbacks(t *testing.T) {
	o := newOrchestrator(t, nil)
	rail := newFakeRail()
	rail.failIDs["B"] = fmt.Errorf("rail refused")

	var starts, successes, failures []string
	completions := 0

	_, err := o.Run(context.Background(), Request{
		IDs:          []string{"A", "B"},
		LatestStatus: readyStatuses("A", "B"),
		Confirmed:    true,
	}, rail.disburse, Callbacks{
		OnItemStart:   func(id string, _, _ int) { starts = append(starts, id) },
		OnItemSuccess: func(id string, r Receipt) { successes = append(successes, r.TransferID) },
		OnItemFailure: func(id string, e *errors.StandardError) { failures = append(failures, id) },
		OnComplete:    func(BatchResult) { completions++ },
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, starts)
	assert.Equal(t, []string{"txn-A"}, successes)
	assert.Equal(t, []string{"B"}, failures)
	assert.Equal(t, 1, completions, "completion must signal exactly once")
}

func TestRun_TimeoutIsReportedAsRemoteFailure(t *testing.T) {
	o := New(testPacing, 20*time.Millisecond, nil, logger.NewTestLogger(t), nil)

	slow := func(ctx context.Context, id string) (Receipt, error) {
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return Receipt{TransferID: "txn-" + id}, nil
		}
	}

	result, err := o.Run(context.Background(), Request{
		IDs: []string{"A"}, LatestStatus: readyStatuses("A"), Confirmed: true,
	}, slow, Callbacks{})

	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "Disbursement request timed out", result.Failed[0].Error)
}

func TestRun_RejectsReentrantInvocation(t *testing.T) {
	o := newOrchestrator(t, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := func(ctx context.Context, id string) (Receipt, error) {
		close(started)
		<-release
		return Receipt{TransferID: "txn-" + id}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := o.Run(context.Background(), Request{
			IDs: []string{"A"}, LatestStatus: readyStatuses("A"), Confirmed: true,
		}, blocking, Callbacks{})
		assert.NoError(t, err)
	}()

	<-started
	assert.True(t, o.Active())

	rail := newFakeRail()
	_, err := o.Run(context.Background(), Request{
		IDs: []string{"B"}, LatestStatus: readyStatuses("B"), Confirmed: true,
	}, rail.disburse, Callbacks{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBatchInProgress, errors.CodeOf(err))

	close(release)
	<-done
	assert.False(t, o.Active())
}

func TestBatchResult_Classification(t *testing.T) {
	assert.Equal(t, "success", BatchResult{Success: []string{"A"}}.Classification())
	assert.Equal(t, "failure", BatchResult{Failed: []FailedItem{{ID: "A"}}}.Classification())
	assert.Equal(t, "partial", BatchResult{
		Success: []string{"A"},
		Failed:  []FailedItem{{ID: "B"}},
	}.Classification())
}

func TestRun_CallerCancellationDoesNotAbortBatch(t *testing.T) {
	sel := &fakeSelection{}
	o := newOrchestrator(t, sel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A rail that honors context cancellation, like a real HTTP call.
	var calls []string
	disburse := func(callCtx context.Context, id string) (Receipt, error) {
		if err := callCtx.Err(); err != nil {
			return Receipt{}, err
		}
		calls = append(calls, id)
		return Receipt{TransferID: "txn-" + id}, nil
	}

	// The caller disconnects right after the first disbursement lands.
	cb := Callbacks{OnItemSuccess: func(id string, _ Receipt) {
		if id == "a" {
			cancel()
		}
	}}

	result, err := o.Run(ctx, Request{
		IDs:          []string{"a", "b", "c"},
		LatestStatus: readyStatuses("a", "b", "c"),
		Confirmed:    true,
	}, disburse, cb)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, calls, "every id must still be attempted for real")
	assert.Equal(t, "success", result.Classification())
	assert.Empty(t, result.Failed)
	assert.Equal(t, 1, sel.cleared)
}
