// Package audit models the per-request audit log document defined in
// spec §3 and built incrementally by the orchestrator as each step of
// §4.3–§4.5 completes (§4.6).
package audit

import (
	"encoding/json"
	"time"
)

// Step names the audit steps recorded for a request, per spec §3.
type Step string

const (
	StepFindPartitions    Step = "find_partitions"
	StepRewritePartitions Step = "rewrite_partitions"
	StepWarehouseDelete   Step = "warehouse_delete"
)

// Partition names a (year, month, day) directory in the curated dataset.
type Partition struct {
	Year  string `json:"year"`
	Month string `json:"month"`
	Day   string `json:"day"`
}

// PartitionOutcome records per-partition results from the rewriter (§4.4
// step 6): files removed, files created, status, and error if any.
type PartitionOutcome struct {
	Partition            Partition `json:"partition"`
	OriginalFilesDeleted int       `json:"original_files_deleted"`
	NewFilesCreated      int       `json:"new_files_created"`
	Status               string    `json:"status"` // "completed" | "failed"
	Error                string    `json:"error,omitempty"`
}

// StepRecord is one entry in the ordered audit_log sequence (§3).
type StepRecord struct {
	Step        Step      `json:"step"`
	CompletedAt time.Time `json:"completed_at"`

	// find_partitions detail
	PartitionsFound int         `json:"partitions_found,omitempty"`
	Partitions      []Partition `json:"partitions,omitempty"`

	// rewrite_partitions detail
	PartitionOutcomes []PartitionOutcome `json:"partition_outcomes,omitempty"`

	// warehouse_delete detail
	RowsAffected int64 `json:"rows_affected,omitempty"`
}

// Document is the full audit_log document persisted into the request
// log's audit_log attribute as a serialized JSON string (spec §3, §6).
type Document struct {
	RequestID        string       `json:"request_id"`
	StartedAt        time.Time    `json:"started_at"`
	Steps            []StepRecord `json:"steps"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	DurationSeconds  *float64     `json:"duration_seconds,omitempty"`
	FailedAt         *time.Time   `json:"failed_at,omitempty"`
	Error            string       `json:"error,omitempty"`
	InFlightPartition *InFlight   `json:"in_flight_partition,omitempty"`
}

// InFlight identifies the partition under rewrite (if any) and its
// last-known sub-step, for operator reconciliation per spec §7.
type InFlight struct {
	Partition Partition `json:"partition"`
	SubStep   string    `json:"sub_step"`
}

// New starts a fresh audit document for requestID.
func New(requestID string, startedAt time.Time) *Document {
	return &Document{RequestID: requestID, StartedAt: startedAt}
}

// AppendFindPartitions records the outcome of C3 (§3: "enumerated partition
// keys and their count").
func (d *Document) AppendFindPartitions(partitions []Partition, completedAt time.Time) {
	d.Steps = append(d.Steps, StepRecord{
		Step:            StepFindPartitions,
		CompletedAt:     completedAt,
		PartitionsFound: len(partitions),
		Partitions:      partitions,
	})
}

// AppendRewritePartitions records the outcome of C4.
func (d *Document) AppendRewritePartitions(outcomes []PartitionOutcome, completedAt time.Time) {
	d.Steps = append(d.Steps, StepRecord{
		Step:              StepRewritePartitions,
		CompletedAt:       completedAt,
		PartitionOutcomes: outcomes,
	})
}

// AppendWarehouseDelete records the outcome of C5.
func (d *Document) AppendWarehouseDelete(rowsAffected int64, completedAt time.Time) {
	d.Steps = append(d.Steps, StepRecord{
		Step:         StepWarehouseDelete,
		CompletedAt:  completedAt,
		RowsAffected: rowsAffected,
	})
}

// SetInFlight records which partition is mid-rewrite and its last known
// sub-step, so a FAILED request's audit document lets an operator
// reconcile (§7: "the partition currently under rewrite... is identified
// with its last-known sub-step").
func (d *Document) SetInFlight(p Partition, subStep string) {
	d.InFlightPartition = &InFlight{Partition: p, SubStep: subStep}
}

// ClearInFlight removes the in-flight marker once every partition has been
// rewritten, so a finished document is not mistaken for still-in-progress.
// The rewriter leaves the marker in place when a partition fails.
func (d *Document) ClearInFlight() {
	d.InFlightPartition = nil
}

// Complete finalizes the document for a COMPLETED request.
func (d *Document) Complete(completedAt time.Time) {
	d.CompletedAt = &completedAt
	dur := completedAt.Sub(d.StartedAt).Seconds()
	d.DurationSeconds = &dur
}

// Fail finalizes the document for a FAILED request.
func (d *Document) Fail(failedAt time.Time, err error) {
	d.FailedAt = &failedAt
	d.Error = err.Error()
}

// PartitionCount returns the partitions_found value recorded by the
// find_partitions step, looked up by step name rather than slice index
// (spec §9 Open Question: "derive partition counts by step name, not
// index"). Returns -1 if no find_partitions step has been recorded yet.
func (d *Document) PartitionCount() int {
	for _, s := range d.Steps {
		if s.Step == StepFindPartitions {
			return s.PartitionsFound
		}
	}
	return -1
}

// Marshal serializes the document to the string form persisted in C1's
// audit_log attribute (spec §6). It marshals a value copy so a caller
// continuing to mutate the live document cannot race the persisted bytes
// (spec §9: "Emit a defensive copy on persistence").
func (d *Document) Marshal() (string, error) {
	cp := *d
	cp.Steps = append([]StepRecord(nil), d.Steps...)
	b, err := json.Marshal(&cp)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unmarshal parses a previously persisted audit_log string.
func Unmarshal(s string) (*Document, error) {
	if s == "" {
		return &Document{}, nil
	}
	var d Document
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, err
	}
	return &d, nil
}
