// Package rewriter implements C4, the Partition Rewriter: the component
// that actually removes a subject's rows from the curated dataset, one
// partition at a time, via staged compaction rather than in-place
// mutation (spec §4.4).
package rewriter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/healthlake/erasure-orchestrator/internal/audit"
	"github.com/healthlake/erasure-orchestrator/internal/errs"
	"github.com/healthlake/erasure-orchestrator/internal/objectstore"
	"github.com/healthlake/erasure-orchestrator/internal/queryengine"
)

// Rewriter performs the per-partition CTAS-then-swap protocol described
// in spec §4.4: stage a copy of the partition excluding the target
// subject, then replace the destination prefix with the staged copy.
type Rewriter struct {
	engine      *queryengine.Client
	store       *objectstore.Client
	logger      *slog.Logger
	database    string
	sourceTable string
	stagingDB   string
	bucket      string
	destPrefix  func(p audit.Partition) string
	stagePrefix func(p audit.Partition, nonce string) string
	retry       *errs.RetryController
}

// New builds a Rewriter. destPrefix and stagePrefix compute the S3 key
// prefixes for a partition's live location and a staging location,
// respectively; callers supply these so the layout stays configurable
// without baking a naming scheme into this package.
func New(engine *queryengine.Client, store *objectstore.Client, logger *slog.Logger, database, sourceTable, stagingDB, bucket string, destPrefix func(audit.Partition) string, stagePrefix func(audit.Partition, string) string) *Rewriter {
	return &Rewriter{
		engine:      engine,
		store:       store,
		logger:      logger,
		database:    database,
		sourceTable: sourceTable,
		stagingDB:   stagingDB,
		bucket:      bucket,
		destPrefix:  destPrefix,
		stagePrefix: stagePrefix,
		retry:       errs.NewRetryController(),
	}
}

// StagingTableName builds a unique staging table name of the form
// temp_erasure_{year}_{month}_{day}_{nonce} (spec §4.4 step 1: "S_p").
// A fresh nonce on every attempt makes a crashed-and-retried rewrite
// safe: a half-finished staging table from a prior attempt is simply
// orphaned, never reused, and is swept up by best-effort catalog
// cleanup. Exported so callers building a stagePrefix closure can derive
// the staging S3 location from the same name this package uses for the
// staging catalog table, instead of duplicating the naming scheme.
func StagingTableName(p audit.Partition, nonce string) string {
	return fmt.Sprintf("temp_erasure_%s_%s_%s_%s", p.Year, p.Month, p.Day, nonce)
}

// RewritePartitions processes partitions in order, aborting on the first
// failure but preserving the audit outcomes already recorded for earlier
// partitions (spec §4.4: "processing is sequential... a failure aborts
// remaining partitions, it does not roll back completed ones").
func (r *Rewriter) RewritePartitions(ctx context.Context, patientIDHash string, partitions []audit.Partition, doc *audit.Document) error {
	var outcomes []audit.PartitionOutcome

	for _, p := range partitions {
		doc.SetInFlight(p, "staging")

		outcome, err := r.rewriteOne(ctx, patientIDHash, p, doc)
		outcomes = append(outcomes, outcome)
		if err != nil {
			doc.AppendRewritePartitions(outcomes, time.Now().UTC())
			return err
		}
	}

	doc.ClearInFlight()
	doc.AppendRewritePartitions(outcomes, time.Now().UTC())
	return nil
}

func (r *Rewriter) rewriteOne(ctx context.Context, patientIDHash string, p audit.Partition, doc *audit.Document) (audit.PartitionOutcome, error) {
	nonce := uuid.NewString()[:8]
	table := StagingTableName(p, nonce)
	stagingPrefix := r.stagePrefix(p, nonce)
	destPrefix := r.destPrefix(p)

	outcome := audit.PartitionOutcome{Partition: p}

	// Step 1-2: CTAS a staging copy of the partition excluding the
	// target subject's rows.
	ctas := fmt.Sprintf(
		`CREATE TABLE "%s"."%s" WITH (external_location = 's3://%s/%s', format = 'PARQUET') AS `+
			`SELECT * FROM "%s"."%s" WHERE year = '%s' AND month = '%s' AND day = '%s' AND patient_id_hash <> '%s'`,
		r.stagingDB, table, r.bucket, stagingPrefix, r.database, r.sourceTable, p.Year, p.Month, p.Day, patientIDHash,
	)
	if err := r.retry.Do(ctx, func() error {
		if err := r.engine.RunCTAS(ctx, ctas); err != nil {
			return errs.NewRetryable(errs.RewriteStagingFailed, fmt.Errorf("stage partition %s/%s/%s: %w", p.Year, p.Month, p.Day, err))
		}
		return nil
	}); err != nil {
		outcome.Status = "failed"
		outcome.Error = err.Error()
		return outcome, err
	}

	doc.SetInFlight(p, "swap")

	// Everything from here forward is the uncancellable critical
	// section (spec §5): the destination has not yet been touched, but
	// once we begin deleting it we must finish the swap or leave the
	// partition without the rows that were excluded from staging.
	swapCtx := context.WithoutCancel(ctx)
	staged, err := r.store.ListByPrefix(swapCtx, stagingPrefix)
	if err != nil {
		outcome.Status = "failed"
		outcome.Error = err.Error()
		return outcome, errs.NewRetryable(errs.RewriteSwapFailed, fmt.Errorf("list staged objects: %w", err))
	}

	existing, err := r.store.ListByPrefix(swapCtx, destPrefix)
	if err != nil {
		outcome.Status = "failed"
		outcome.Error = err.Error()
		return outcome, errs.New(errs.RewriteSwapFailed, fmt.Errorf("list destination %s: %w", destPrefix, err))
	}

	if err := r.store.DeletePrefix(swapCtx, destPrefix); err != nil {
		outcome.Status = "failed"
		outcome.Error = err.Error()
		return outcome, errs.New(errs.RewriteSwapFailed, fmt.Errorf("clear destination %s: %w", destPrefix, err))
	}
	outcome.OriginalFilesDeleted = len(existing)

	moved := 0
	for _, obj := range staged {
		relKey := obj.Key[len(stagingPrefix):]
		dstKey := destPrefix + relKey
		if err := r.store.CopyObject(swapCtx, obj.Key, dstKey); err != nil {
			outcome.Status = "failed"
			outcome.Error = err.Error()
			outcome.NewFilesCreated = moved
			return outcome, errs.New(errs.RewriteSwapFailed, fmt.Errorf("copy staged object %s: %w", obj.Key, err))
		}
		moved++
	}
	outcome.NewFilesCreated = moved

	// Staging cleanup and catalog cleanup are both best-effort: leaving
	// orphaned staging data behind is wasteful but never incorrect,
	// since every staging table/prefix carries a nonce it will never
	// collide with a later attempt.
	if err := r.store.DeleteObjects(swapCtx, stagingKeys(staged)); err != nil {
		r.logger.Warn("staging cleanup failed", "table", table, "error", err)
	}
	if err := r.engine.CleanupTable(swapCtx, r.stagingDB, table); err != nil {
		r.logger.Warn("catalog cleanup failed", "table", table, "error", errs.New(errs.CatalogCleanupWarning, err))
	}

	outcome.Status = "completed"
	return outcome, nil
}

func stagingKeys(objects []objectstore.Object) []string {
	keys := make([]string, len(objects))
	for i, o := range objects {
		keys[i] = o.Key
	}
	return keys
}
