// Package orchestrator wires C1 through C5 into the single per-request
// pipeline spec §4 describes: locate partitions, rewrite each one,
// delete the matching warehouse rows, and keep the request log's status
// and audit document current at every significant transition.
//
// Clients (request log, locator, rewriter, warehouse, metrics) are
// constructed once by the caller and passed in by reference here, rather
// than reached for through package-level state — the orchestrator never
// constructs its own AWS clients (spec §9: no hidden globals).
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/healthlake/erasure-orchestrator/internal/audit"
	"github.com/healthlake/erasure-orchestrator/internal/deadletter"
	"github.com/healthlake/erasure-orchestrator/internal/errs"
	"github.com/healthlake/erasure-orchestrator/internal/locator"
	"github.com/healthlake/erasure-orchestrator/internal/logging"
	"github.com/healthlake/erasure-orchestrator/internal/metrics"
	"github.com/healthlake/erasure-orchestrator/internal/requestlog"
	"github.com/healthlake/erasure-orchestrator/internal/rewriter"
	"github.com/healthlake/erasure-orchestrator/internal/warehouse"
)

// Pipeline is the coordinating component a Dispatcher invokes once per
// APPROVED request.
type Pipeline struct {
	store      *requestlog.Store
	locator    *locator.Locator
	rewriter   *rewriter.Rewriter
	warehouse  *warehouse.Client
	metrics    *metrics.Recorder
	deadletter *deadletter.Store
	logger     *slog.Logger
	deadline   time.Duration
}

// New builds a Pipeline. deadline bounds the entire per-request run
// (spec §5 default: 900s). dl may be nil: a nil *deadletter.Store disables
// the operator-visibility outbox without changing any other behavior.
func New(store *requestlog.Store, loc *locator.Locator, rw *rewriter.Rewriter, wh *warehouse.Client, rec *metrics.Recorder, dl *deadletter.Store, logger *slog.Logger, deadline time.Duration) *Pipeline {
	if deadline <= 0 {
		deadline = 900 * time.Second
	}
	return &Pipeline{store: store, locator: loc, rewriter: rw, warehouse: wh, metrics: rec, deadletter: dl, logger: logger, deadline: deadline}
}

// Process runs one erasure request to completion: APPROVED -> PROCESSING
// -> COMPLETED or FAILED. It is safe to call more than once for the same
// requestID — duplicate dispatch from at-least-once stream delivery
// converges via the request log's conditional status transitions (spec
// §4.1).
func (p *Pipeline) Process(ctx context.Context, requestID string) {
	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	req, err := p.store.Get(ctx, requestID)
	if err != nil {
		p.logger.Error("failed to load request", "request_id", requestID, "error", err)
		return
	}

	log := logging.ForRequest(p.logger, requestID, req.PatientIDHash)

	if req.Status.Terminal() {
		log.Info("request already in a terminal state, skipping", "status", string(req.Status))
		return
	}

	if err := p.store.UpdateStatus(ctx, requestID, requestlog.StatusApproved, requestlog.StatusProcessing, nil); err != nil {
		log.Error("failed to transition to PROCESSING", "error", err)
		return
	}

	doc := audit.New(requestID, time.Now().UTC())
	if err := p.run(ctx, req.PatientIDHash, doc, log); err != nil {
		p.fail(ctx, requestID, doc, err, log)
		return
	}
	p.complete(ctx, requestID, doc, log)
}

func (p *Pipeline) run(ctx context.Context, patientIDHash string, doc *audit.Document, log *slog.Logger) error {
	partitions, err := p.locator.FindPartitions(ctx, patientIDHash)
	if err != nil {
		return err
	}
	doc.AppendFindPartitions(partitions, time.Now().UTC())
	log.Info("located partitions", "count", len(partitions))

	if err := p.rewriter.RewritePartitions(ctx, patientIDHash, partitions, doc); err != nil {
		return err
	}
	p.metrics.RecordPartitionsRewritten(doc.PartitionCount())

	rows, err := p.warehouse.DeletePatient(ctx, patientIDHash)
	if err != nil {
		return err
	}
	doc.AppendWarehouseDelete(rows, time.Now().UTC())
	log.Info("deleted warehouse rows", "rows_affected", rows)

	return nil
}

func (p *Pipeline) complete(ctx context.Context, requestID string, doc *audit.Document, log *slog.Logger) {
	completedAt := time.Now().UTC()
	doc.Complete(completedAt)
	auditJSON, err := doc.Marshal()
	if err != nil {
		log.Error("failed to marshal audit document", "error", err)
		auditJSON = ""
	}

	upd := &requestlog.StatusUpdate{AuditLog: auditJSON, CompletedAt: &completedAt}
	if err := p.store.UpdateStatus(ctx, requestID, requestlog.StatusProcessing, requestlog.StatusCompleted, upd); err != nil {
		log.Error("failed to transition to COMPLETED", "error", err)
		return
	}
	p.metrics.RecordRequestProcessed(string(requestlog.StatusCompleted))
	if doc.DurationSeconds != nil {
		p.metrics.RecordDuration(*doc.DurationSeconds)
	}
	log.Info("erasure request completed")
}

func (p *Pipeline) fail(ctx context.Context, requestID string, doc *audit.Document, cause error, log *slog.Logger) {
	doc.Fail(time.Now().UTC(), cause)
	auditJSON, err := doc.Marshal()
	if err != nil {
		log.Error("failed to marshal audit document", "error", err)
		auditJSON = ""
	}

	upd := &requestlog.StatusUpdate{ErrorMessage: cause.Error(), AuditLog: auditJSON}
	if err := p.store.UpdateStatus(ctx, requestID, requestlog.StatusProcessing, requestlog.StatusFailed, upd); err != nil {
		log.Error("failed to transition to FAILED", "error", err)
	}
	p.metrics.RecordRequestProcessed(string(requestlog.StatusFailed))
	kind, _ := errs.KindOf(cause)
	p.metrics.RecordFailure(string(kind))
	log.Error("erasure request failed", "error", cause, "kind", kind)

	if err := p.deadletter.Record(ctx, requestID, string(kind)); err != nil {
		log.Warn("failed to record dead letter", "error", err)
	}
}
