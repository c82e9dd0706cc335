// Command send-test-event posts a synthetic erasure request directly into
// the request log, going straight from PENDING to APPROVED so the
// orchestrator pipeline can be exercised manually without the
// access-control front-end that is out of scope for this repo (spec §1).
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/healthlake/erasure-orchestrator/internal/requestlog"
)

var rootCmd = &cobra.Command{
	Use:   "send-test-event",
	Short: "Post a synthetic APPROVED erasure request into the request log",
}

func main() {
	var (
		table       string
		patientHash string
		requester   string
		skipApprove bool
	)

	rootCmd.Flags().StringVar(&table, "table", os.Getenv("REQUESTS_TABLE"), "DynamoDB requests table name (defaults to REQUESTS_TABLE)")
	rootCmd.Flags().StringVar(&patientHash, "patient-hash", "", "64-char hex patient_id_hash to erase (generated from a random subject id if omitted)")
	rootCmd.Flags().StringVar(&requester, "requester", "send-test-event-cli", "Value recorded in the request's requester field")
	rootCmd.Flags().BoolVar(&skipApprove, "pending-only", false, "Leave the request in PENDING instead of immediately transitioning to APPROVED")

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), table, patientHash, requester, skipApprove)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, table, patientHash, requester string, skipApprove bool) error {
	if table == "" {
		return fmt.Errorf("--table is required (or set REQUESTS_TABLE)")
	}
	if patientHash == "" {
		patientHash = syntheticPatientHash()
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	store := requestlog.NewStore(dynamodb.NewFromConfig(awsCfg), table)

	requestID := uuid.NewString()
	now := time.Now().UTC()
	req := &requestlog.Request{
		RequestID:     requestID,
		PatientIDHash: patientHash,
		Status:        requestlog.StatusPending,
		Requester:     requester,
		RequestedAt:   now,
		UpdatedAt:     now,
	}

	if err := store.Put(ctx, req); err != nil {
		return fmt.Errorf("put request: %w", err)
	}
	fmt.Printf("created request %s (patient_id_hash=%s, status=PENDING)\n", requestID, patientHash)

	if skipApprove {
		return nil
	}

	if err := store.UpdateStatus(ctx, requestID, requestlog.StatusPending, requestlog.StatusApproved, nil); err != nil {
		return fmt.Errorf("transition to APPROVED: %w", err)
	}
	fmt.Printf("approved request %s; orchestrator should pick it up from the change stream\n", requestID)
	return nil
}

// syntheticPatientHash produces a well-formed 64-char hex fingerprint from
// a random synthetic subject id, the same sha256-of-identifier shape spec
// §3 describes for real patient_id_hash values.
func syntheticPatientHash() string {
	sum := sha256.Sum256([]byte("test-subject-" + uuid.NewString()))
	return hex.EncodeToString(sum[:])
}
