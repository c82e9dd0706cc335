package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionCountBeforeFindPartitionsIsNegativeOne(t *testing.T) {
	doc := New("req-1", time.Now())
	assert.Equal(t, -1, doc.PartitionCount())
}

func TestPartitionCountReadsFindPartitionsStepByName(t *testing.T) {
	doc := New("req-1", time.Now())
	partitions := []Partition{{Year: "2025", Month: "01", Day: "15"}, {Year: "2025", Month: "02", Day: "01"}}
	doc.AppendFindPartitions(partitions, time.Now())

	assert.Equal(t, 2, doc.PartitionCount())
}

func TestPartitionCountIgnoresLaterSteps(t *testing.T) {
	doc := New("req-1", time.Now())
	doc.AppendFindPartitions([]Partition{{Year: "2025", Month: "01", Day: "15"}}, time.Now())
	doc.AppendRewritePartitions([]PartitionOutcome{{Status: "completed"}}, time.Now())
	doc.AppendWarehouseDelete(7, time.Now())

	assert.Equal(t, 1, doc.PartitionCount())
}

func TestCompleteSetsDurationFromStartedAt(t *testing.T) {
	start := time.Now()
	doc := New("req-1", start)
	completedAt := start.Add(5 * time.Second)

	doc.Complete(completedAt)

	require.NotNil(t, doc.CompletedAt)
	require.NotNil(t, doc.DurationSeconds)
	assert.Equal(t, completedAt, *doc.CompletedAt)
	assert.InDelta(t, 5.0, *doc.DurationSeconds, 0.001)
}

func TestFailRecordsErrorMessage(t *testing.T) {
	doc := New("req-1", time.Now())
	failedAt := time.Now()

	doc.Fail(failedAt, errors.New("boom"))

	require.NotNil(t, doc.FailedAt)
	assert.Equal(t, failedAt, *doc.FailedAt)
	assert.Equal(t, "boom", doc.Error)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	doc := New("req-1", time.Now())
	doc.AppendFindPartitions([]Partition{{Year: "2025", Month: "01", Day: "15"}}, time.Now())
	doc.Complete(time.Now())

	s, err := doc.Marshal()
	require.NoError(t, err)
	require.NotEmpty(t, s)

	round, err := Unmarshal(s)
	require.NoError(t, err)
	assert.Equal(t, doc.RequestID, round.RequestID)
	assert.Equal(t, 1, round.PartitionCount())
}

func TestUnmarshalEmptyStringReturnsEmptyDocument(t *testing.T) {
	doc, err := Unmarshal("")
	require.NoError(t, err)
	assert.Equal(t, -1, doc.PartitionCount())
}

func TestSetAndClearInFlight(t *testing.T) {
	doc := New("req-1", time.Now())
	p := Partition{Year: "2025", Month: "01", Day: "15"}

	doc.SetInFlight(p, "swap")
	require.NotNil(t, doc.InFlightPartition)
	assert.Equal(t, p, doc.InFlightPartition.Partition)
	assert.Equal(t, "swap", doc.InFlightPartition.SubStep)

	doc.ClearInFlight()
	assert.Nil(t, doc.InFlightPartition)
}
