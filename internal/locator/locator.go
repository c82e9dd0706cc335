// Package locator implements C3, the Partition Locator: given a subject
// hash, it resolves the finite set of curated-dataset partitions
// containing at least one row for that hash (spec §4.3).
package locator

import (
	"context"
	"fmt"
	"regexp"

	"github.com/healthlake/erasure-orchestrator/internal/audit"
	"github.com/healthlake/erasure-orchestrator/internal/errs"
	"github.com/healthlake/erasure-orchestrator/internal/queryengine"
)

// HashPattern is the wire format for a subject fingerprint (spec §6):
// exactly 64 lowercase hex characters, the textual form of a SHA-256
// digest.
var HashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidateHash reports whether hash matches the required wire format. It
// is the orchestrator's only defense against injection when the hash is
// later embedded in a query predicate (spec §4.3, §9: "the source uses
// CREATE TABLE AS SELECT which does not [support parameters] — rely on
// the validator").
func ValidateHash(hash string) error {
	if !HashPattern.MatchString(hash) {
		return errs.New(errs.InvalidInput, fmt.Errorf("patient_id_hash %q does not match %s", hash, HashPattern.String()))
	}
	return nil
}

// Locator issues the distinct-partition query against the catalog-backed
// query engine.
type Locator struct {
	engine   *queryengine.Client
	database string
	table    string
	retry    *errs.RetryController
}

// New builds a Locator targeting database.table in the catalog.
func New(engine *queryengine.Client, database, table string) *Locator {
	return &Locator{engine: engine, database: database, table: table, retry: errs.NewRetryController()}
}

// FindPartitions returns every (year, month, day) partition containing at
// least one row with patientIDHash, reading only the partition column
// values (spec §4.3). An empty result is normal (spec §4.3: "An empty
// result is normal and means no rewrites are required").
func (l *Locator) FindPartitions(ctx context.Context, patientIDHash string) ([]audit.Partition, error) {
	if err := ValidateHash(patientIDHash); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT DISTINCT year, month, day FROM "%s"."%s" WHERE patient_id_hash = '%s'`,
		l.database, l.table, patientIDHash,
	)

	var rows [][]string
	err := l.retry.Do(ctx, func() error {
		var runErr error
		rows, runErr = l.engine.RunQuery(ctx, query)
		if runErr != nil {
			return errs.NewRetryable(errs.LocatorQueryFailed, runErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	partitions := make([]audit.Partition, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		partitions = append(partitions, audit.Partition{Year: row[0], Month: row[1], Day: row[2]})
	}
	return partitions, nil
}
