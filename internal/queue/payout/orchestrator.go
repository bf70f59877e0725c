// internal/queue/payout/orchestrator.go

// Package payout runs bulk disbursement batches. Calls to the payment rail
// are strictly sequential with a fixed pacing interval between them; the
// interval is agreed backpressure against the provider's rate limit, not an
// artifact. One id's failure never touches the processing of its siblings.
package payout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lending-queue/internal/common/errors"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/common/metrics"
	"lending-queue/internal/common/observability"
	"lending-queue/internal/models"
)

// Receipt is the payment rail's acknowledgement for one disbursement.
type Receipt struct {
	TransferID string `json:"transferId"`
}

// DisburseFunc issues a single-application payout.
type DisburseFunc func(ctx context.Context, id string) (Receipt, error)

// FailedItem is one id's failure inside a batch summary.
type FailedItem struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResult aggregates one batch invocation. It belongs to that invocation
// alone; the next Run starts from scratch.
type BatchResult struct {
	BatchID     string       `json:"batchId"`
	Success     []string     `json:"success"`
	Failed      []FailedItem `json:"failed"`
	StartedAt   time.Time    `json:"startedAt"`
	CompletedAt time.Time    `json:"completedAt"`
}

// Classification buckets the result for the summary toast: "success",
// "partial" or "failure".
func (r BatchResult) Classification() string {
	switch {
	case len(r.Failed) == 0:
		return "success"
	case len(r.Success) == 0:
		return "failure"
	default:
		return "partial"
	}
}

// Callbacks receive per-item progress for UI feedback. Any field may be nil.
type Callbacks struct {
	OnItemStart   func(id string, index, total int)
	OnItemSuccess func(id string, receipt Receipt)
	OnItemFailure func(id string, err *errors.StandardError)
	OnComplete    func(result BatchResult)
}

// Request is one batch invocation.
type Request struct {
	// IDs are the selected application ids, in processing order.
	IDs []string

	// LatestStatus is the last-known status per id. Eligibility is
	// re-checked here at batch entry; the selection manager should have
	// enforced it already, but ids can go stale between fetch and click.
	LatestStatus map[string]models.Status

	// Confirmed must carry the user's explicit confirmation. The
	// orchestrator refuses to run without it.
	Confirmed bool
}

// SelectionClearer is the slice of the selection manager the orchestrator
// needs for its end-of-batch clear.
type SelectionClearer interface {
	Clear()
}

// Orchestrator executes payout batches one at a time.
type Orchestrator struct {
	pacing      time.Duration
	callTimeout time.Duration
	selection   SelectionClearer
	log         logger.Logger
	obs         *observability.Observability
	running     atomic.Bool
}

// New creates an orchestrator. selection and obs may be nil.
func New(pacing, callTimeout time.Duration, selection SelectionClearer, log logger.Logger, obs *observability.Observability) *Orchestrator {
	return &Orchestrator{
		pacing:      pacing,
		callTimeout: callTimeout,
		selection:   selection,
		log:         log,
		obs:         obs,
	}
}

// Active reports whether a batch is currently running.
func (o *Orchestrator) Active() bool {
	return o.running.Load()
}

// Run processes req sequentially and returns the aggregated result. Once
// started it proceeds to completion over all ids; there is no mid-batch
// cancellation. A second Run while one is active is rejected.
func (o *Orchestrator) Run(ctx context.Context, req Request, disburse DisburseFunc, cb Callbacks) (BatchResult, error) {
	if !req.Confirmed {
		return BatchResult{}, errors.NewBatchNotConfirmedError()
	}
	if !o.running.CompareAndSwap(false, true) {
		return BatchResult{}, errors.NewBatchInProgressError()
	}
	defer o.running.Store(false)

	eligible := make([]string, 0, len(req.IDs))
	rejected := make([]FailedItem, 0)
	for _, id := range req.IDs {
		status := req.LatestStatus[id]
		if status.DisbursementEligible() {
			eligible = append(eligible, id)
			continue
		}
		staleErr := errors.NewSelectionIneligibleError(id, string(status))
		rejected = append(rejected, FailedItem{ID: id, Error: staleErr.Message})
	}

	if len(eligible) == 0 {
		return BatchResult{}, errors.NewEmptyBatchError()
	}

	// A started batch runs to completion over every id. The caller may
	// disconnect mid-batch; only the per-call timeout bounds each
	// disbursement from here on.
	ctx = context.WithoutCancel(ctx)

	result := BatchResult{
		BatchID:   uuid.NewString(),
		Success:   make([]string, 0, len(eligible)),
		Failed:    rejected,
		StartedAt: time.Now().UTC(),
	}

	log := o.log.WithFields(map[string]interface{}{"batchId": result.BatchID})
	log.Info("starting payout batch", map[string]interface{}{
		"selected": len(req.IDs),
		"eligible": len(eligible),
		"rejected": len(rejected),
	})

	total := len(eligible)
	for i, id := range eligible {
		if cb.OnItemStart != nil {
			cb.OnItemStart(id, i, total)
		}

		callStart := time.Now()
		receipt, err := o.disburseOne(ctx, id, disburse)
		elapsed := time.Since(callStart)

		if err != nil {
			stdErr := errors.FromDisburseError(id, err)
			result.Failed = append(result.Failed, FailedItem{ID: id, Error: stdErr.Message})
			metrics.DisbursementsTotal.WithLabelValues("failure").Inc()
			o.recordDisbursement(ctx, elapsed, "failure")
			log.Error("disbursement failed", map[string]interface{}{
				"id":    id,
				"code":  stdErr.Code,
				"error": stdErr.Message,
			})
			if cb.OnItemFailure != nil {
				cb.OnItemFailure(id, stdErr)
			}
		} else {
			result.Success = append(result.Success, id)
			metrics.DisbursementsTotal.WithLabelValues("success").Inc()
			o.recordDisbursement(ctx, elapsed, "success")
			log.Info("disbursement succeeded", map[string]interface{}{
				"id":         id,
				"transferId": receipt.TransferID,
			})
			if cb.OnItemSuccess != nil {
				cb.OnItemSuccess(id, receipt)
			}
		}

		// Fixed pacing before the next call, regardless of outcome.
		if i < total-1 {
			time.Sleep(o.pacing)
		}
	}

	result.CompletedAt = time.Now().UTC()

	// The selection is cleared whether the batch succeeded or not.
	if o.selection != nil {
		o.selection.Clear()
	}

	metrics.BatchesTotal.WithLabelValues(result.Classification()).Inc()
	metrics.BatchDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())

	log.Info("payout batch complete", map[string]interface{}{
		"result":    result.Classification(),
		"succeeded": len(result.Success),
		"failed":    len(result.Failed),
	})

	if cb.OnComplete != nil {
		cb.OnComplete(result)
	}
	return result, nil
}

func (o *Orchestrator) disburseOne(ctx context.Context, id string, disburse DisburseFunc) (Receipt, error) {
	callCtx := ctx
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}
	return disburse(callCtx, id)
}

func (o *Orchestrator) recordDisbursement(ctx context.Context, elapsed time.Duration, outcome string) {
	if o.obs == nil {
		return
	}
	o.obs.RecordDisbursement(ctx, outcome)
	o.obs.RecordDisbursementDuration(ctx, elapsed, outcome)
}
