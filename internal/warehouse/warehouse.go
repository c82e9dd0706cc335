// Package warehouse implements C5, the Warehouse Eraser: it issues the
// matching DELETE against the analytical warehouse's pre-aggregated
// patient-level tables once every curated-dataset partition has been
// rewritten (spec §4.5).
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"

	"github.com/healthlake/erasure-orchestrator/internal/errs"
)

// redshiftDataAPI is the subset of *redshiftdata.Client this package
// calls.
type redshiftDataAPI interface {
	ExecuteStatement(ctx context.Context, in *redshiftdata.ExecuteStatementInput, opts ...func(*redshiftdata.Options)) (*redshiftdata.ExecuteStatementOutput, error)
	DescribeStatement(ctx context.Context, in *redshiftdata.DescribeStatementInput, opts ...func(*redshiftdata.Options)) (*redshiftdata.DescribeStatementOutput, error)
}

// Client issues DELETEs against the warehouse via the Redshift Data API's
// asynchronous statement-submission protocol: submit, then poll.
type Client struct {
	rs            redshiftDataAPI
	clusterID     string
	database      string
	dbUser        string
	workgroupName string
	table         string
	timeout       time.Duration
	poll          time.Duration
	retry         *errs.RetryController
}

// New builds a Client targeting table in database. clusterID/dbUser
// select provisioned-cluster auth; workgroupName selects Redshift
// Serverless auth — callers set exactly one per their deployment (spec
// §6 names both auth shapes as acceptable).
func New(rs redshiftDataAPI, clusterID, database, dbUser, workgroupName, table string, timeout, pollInterval time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{
		rs:            rs,
		clusterID:     clusterID,
		database:      database,
		dbUser:        dbUser,
		workgroupName: workgroupName,
		table:         table,
		timeout:       timeout,
		poll:          pollInterval,
		retry:         errs.NewRetryController(),
	}
}

// DeletePatient deletes every row for patientIDHash from the warehouse
// table and returns the number of rows affected. Re-running this for a
// hash with no remaining rows is a no-op success with zero rows affected
// (spec §4.5: "idempotent: a request that is re-driven after partial
// completion finds nothing left to delete and succeeds trivially").
func (c *Client) DeletePatient(ctx context.Context, patientIDHash string) (int64, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE patient_id_hash = '%s'`, c.table, patientIDHash)

	in := &redshiftdata.ExecuteStatementInput{
		Database: &c.database,
		Sql:      &stmt,
	}
	switch {
	case c.workgroupName != "":
		in.WorkgroupName = &c.workgroupName
	default:
		in.ClusterIdentifier = &c.clusterID
		in.DbUser = &c.dbUser
	}

	var out *redshiftdata.ExecuteStatementOutput
	err := c.retry.Do(ctx, func() error {
		var execErr error
		out, execErr = c.rs.ExecuteStatement(ctx, in)
		if execErr != nil {
			return errs.NewRetryable(errs.WarehouseDeleteFailed, fmt.Errorf("execute statement: %w", execErr))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return c.awaitCompletion(ctx, *out.Id)
}

func (c *Client) awaitCompletion(ctx context.Context, statementID string) (int64, error) {
	deadline := time.Now().Add(c.timeout)

	for {
		var out *redshiftdata.DescribeStatementOutput
		err := c.retry.Do(ctx, func() error {
			var describeErr error
			out, describeErr = c.rs.DescribeStatement(ctx, &redshiftdata.DescribeStatementInput{Id: &statementID})
			if describeErr != nil {
				return errs.NewRetryable(errs.WarehouseDeleteFailed, fmt.Errorf("describe statement: %w", describeErr))
			}
			return nil
		})
		if err != nil {
			return 0, err
		}

		switch out.Status {
		case types.StatusStringFinished:
			var rows int64
			if out.ResultRows != nil {
				rows = *out.ResultRows
			}
			return rows, nil
		case types.StatusStringFailed, types.StatusStringAborted:
			reason := ""
			if out.Error != nil {
				reason = *out.Error
			}
			return 0, errs.New(errs.WarehouseDeleteFailed, fmt.Errorf("redshift statement %s: %s", out.Status, reason))
		}

		if time.Now().After(deadline) {
			return 0, errs.New(errs.DeadlineExceeded, fmt.Errorf("warehouse delete statement %s timed out after %s", statementID, c.timeout))
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(c.poll):
		}
	}
}
