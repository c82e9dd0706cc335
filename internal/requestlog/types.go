// Package requestlog implements C1, the Request Log: a durable, streamed
// store of erasure requests with the state machine defined in spec §3.
package requestlog

import "time"

// Status is a value in the request state machine (spec §3).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusApproved   Status = "APPROVED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether s is a terminal (immutable) status, per
// invariant I1.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions enumerates the only legal status transitions (spec §3).
var transitions = map[Status]map[Status]bool{
	StatusPending:    {StatusApproved: true},
	StatusApproved:   {StatusProcessing: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
}

// ValidTransition reports whether moving from 'from' to 'to' is legal.
// A terminal 'from' never permits any transition (I1).
func ValidTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Request is the persisted erasure request record (spec §3).
type Request struct {
	RequestID     string     `json:"request_id" dynamodbav:"request_id"`
	PatientIDHash string     `json:"patient_id_hash" dynamodbav:"patient_id_hash"`
	Status        Status     `json:"status" dynamodbav:"status"`
	Requester     string     `json:"requester" dynamodbav:"requester"`
	RequestedAt   time.Time  `json:"requested_at" dynamodbav:"requested_at"`
	UpdatedAt     time.Time  `json:"updated_at" dynamodbav:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	AuditLog      string     `json:"audit_log,omitempty" dynamodbav:"audit_log,omitempty"`
}

// StatusUpdate is the optional payload accompanying a status transition
// (spec §4.1: "optional {error_message, audit_log, completed_at}").
type StatusUpdate struct {
	ErrorMessage string
	AuditLog     string
	CompletedAt  *time.Time
}

// ChangeEvent is one at-least-once, commit-ordered mutation delivered by
// the change stream (spec §4.1). OldImage is nil for inserts.
type ChangeEvent struct {
	EventName string // "INSERT" | "MODIFY" | "REMOVE"
	NewImage  *Request
	OldImage  *Request
}
