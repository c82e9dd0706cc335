package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedshiftData struct {
	status     types.StatusString
	resultRows int64
	errMsg     string
}

func (f *fakeRedshiftData) ExecuteStatement(_ context.Context, _ *redshiftdata.ExecuteStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.ExecuteStatementOutput, error) {
	id := "stmt-1"
	return &redshiftdata.ExecuteStatementOutput{Id: &id}, nil
}

func (f *fakeRedshiftData) DescribeStatement(_ context.Context, _ *redshiftdata.DescribeStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.DescribeStatementOutput, error) {
	out := &redshiftdata.DescribeStatementOutput{Status: f.status}
	if f.status == types.StatusStringFinished {
		rows := f.resultRows
		out.ResultRows = &rows
	}
	if f.errMsg != "" {
		out.Error = &f.errMsg
	}
	return out, nil
}

func TestDeletePatientSuccess(t *testing.T) {
	rs := &fakeRedshiftData{status: types.StatusStringFinished, resultRows: 42}
	client := New(rs, "", "analytics", "", "default-workgroup", "patient_summary", time.Second, time.Millisecond)

	rows, err := client.DeletePatient(context.Background(), "a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, int64(42), rows)
}

func TestDeletePatientIdempotentZeroRows(t *testing.T) {
	rs := &fakeRedshiftData{status: types.StatusStringFinished, resultRows: 0}
	client := New(rs, "", "analytics", "", "default-workgroup", "patient_summary", time.Second, time.Millisecond)

	rows, err := client.DeletePatient(context.Background(), "a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
}

func TestDeletePatientFailedStatement(t *testing.T) {
	rs := &fakeRedshiftData{status: types.StatusStringFailed, errMsg: "syntax error"}
	client := New(rs, "cluster-1", "analytics", "admin", "", "patient_summary", time.Second, time.Millisecond)

	_, err := client.DeletePatient(context.Background(), "a1b2c3")
	assert.Error(t, err)
}
