package deadletter

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedExec struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs []recordedExec
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, recordedExec{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestNilStoreRecordIsNoOp(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Record(context.Background(), "req-1", "WAREHOUSE_DELETE_FAILED"))
}

func TestNilStoreCloseIsNoOp(t *testing.T) {
	var s *Store
	assert.NotPanics(t, func() { s.Close() })
}

func TestRecordUpsertsWithRequestIDAndKind(t *testing.T) {
	fake := &fakeDB{}
	s := &Store{db: fake}

	err := s.Record(context.Background(), "req-1", "RewriteSwapFailed")
	require.NoError(t, err)

	require.Len(t, fake.execs, 1)
	assert.Contains(t, fake.execs[0].sql, "ON CONFLICT (request_id)")
	assert.Equal(t, "req-1", fake.execs[0].args[0])
	assert.Equal(t, "RewriteSwapFailed", fake.execs[0].args[1])
}

func TestRecordWrapsUnderlyingError(t *testing.T) {
	fake := &fakeDB{err: assertError{}}
	s := &Store{db: fake}

	err := s.Record(context.Background(), "req-1", "kind")
	assert.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "simulated db outage" }

func TestOpenWithEmptyDSNReturnsNilStore(t *testing.T) {
	s, err := Open(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, s)
}
