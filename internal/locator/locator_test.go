package locator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlake/erasure-orchestrator/internal/queryengine"
)

var testHash = strings.Repeat("b", 64)

type fakeAthena struct {
	partitions [][3]string
	submitted  string
}

func (f *fakeAthena) StartQueryExecution(_ context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.submitted = *in.QueryString
	id := "exec-1"
	return &athena.StartQueryExecutionOutput{QueryExecutionId: &id}, nil
}

func (f *fakeAthena) GetQueryExecution(_ context.Context, _ *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	return &athena.GetQueryExecutionOutput{
		QueryExecution: &athenatypes.QueryExecution{
			Status: &athenatypes.QueryExecutionStatus{State: athenatypes.QueryExecutionStateSucceeded},
		},
	}, nil
}

func (f *fakeAthena) GetQueryResults(_ context.Context, _ *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	rows := []athenatypes.Row{{Data: []athenatypes.Datum{varchar("year"), varchar("month"), varchar("day")}}}
	for _, p := range f.partitions {
		rows = append(rows, athenatypes.Row{Data: []athenatypes.Datum{varchar(p[0]), varchar(p[1]), varchar(p[2])}})
	}
	return &athena.GetQueryResultsOutput{ResultSet: &athenatypes.ResultSet{Rows: rows}}, nil
}

func varchar(v string) athenatypes.Datum {
	val := v
	return athenatypes.Datum{VarCharValue: &val}
}

type fakeGlue struct{}

func (f *fakeGlue) DeleteTable(_ context.Context, _ *glue.DeleteTableInput, _ ...func(*glue.Options)) (*glue.DeleteTableOutput, error) {
	return &glue.DeleteTableOutput{}, nil
}

func newTestLocator(fa *fakeAthena) *Locator {
	engine := queryengine.New(fa, &fakeGlue{}, "primary", time.Second, time.Millisecond)
	return New(engine, "curated_db", "patients")
}

func TestFindPartitionsReturnsDistinctRows(t *testing.T) {
	fa := &fakeAthena{partitions: [][3]string{{"2025", "01", "15"}, {"2025", "02", "01"}}}
	l := newTestLocator(fa)

	partitions, err := l.FindPartitions(context.Background(), testHash)
	require.NoError(t, err)
	require.Len(t, partitions, 2)
	assert.Equal(t, "2025", partitions[0].Year)
	assert.Equal(t, "01", partitions[0].Month)
	assert.Equal(t, "15", partitions[0].Day)
	assert.Contains(t, fa.submitted, testHash)
}

func TestFindPartitionsEmptyResultIsNormal(t *testing.T) {
	fa := &fakeAthena{}
	l := newTestLocator(fa)

	partitions, err := l.FindPartitions(context.Background(), testHash)
	require.NoError(t, err)
	assert.Empty(t, partitions)
}

func TestFindPartitionsRejectsMalformedHash(t *testing.T) {
	fa := &fakeAthena{}
	l := newTestLocator(fa)

	_, err := l.FindPartitions(context.Background(), "not-a-hash")
	assert.Error(t, err)
	assert.Empty(t, fa.submitted, "no query should be submitted for an invalid hash")
}

func TestFindPartitionsRejectsInjectionAttempt(t *testing.T) {
	fa := &fakeAthena{}
	l := newTestLocator(fa)

	malicious := strings.Repeat("a", 60) + "'; --"
	_, err := l.FindPartitions(context.Background(), malicious)
	assert.Error(t, err)
}

func TestValidateHash(t *testing.T) {
	assert.NoError(t, ValidateHash(testHash))
	assert.Error(t, ValidateHash(""))
	assert.Error(t, ValidateHash(strings.Repeat("Z", 64)))
}
