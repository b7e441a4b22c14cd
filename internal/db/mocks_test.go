package db

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// --- Mock DBTX / Pool ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

func (m *mockDBTX) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	args := m.Called(ctx, b)
	return args.Get(0).(pgx.BatchResults)
}

func (m *mockDBTX) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(pgx.Tx), args.Error(1)
	}
	return nil, args.Error(1)
}

// --- Mock Tx ---

// mockTx implements the pgx.Tx methods the stores use; the embedded
// interface panics on anything else.
type mockTx struct {
	pgx.Tx
	mockDBTX
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return t.mockDBTX.Exec(ctx, sql, arguments...)
}

func (t *mockTx) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	return t.mockDBTX.Query(ctx, sql, arguments...)
}

func (t *mockTx) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	return t.mockDBTX.QueryRow(ctx, sql, arguments...)
}

func (t *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return t.mockDBTX.SendBatch(ctx, b)
}

func (t *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.mockDBTX.Begin(ctx)
}

func (t *mockTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *mockTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows ---

type mockRows struct {
	rows   []func(dest ...any) error
	idx    int
	closed bool
	errVal error
}

func newMockRows(rows ...func(dest ...any) error) *mockRows {
	return &mockRows{rows: rows, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.rows)
}

func (r *mockRows) Scan(dest ...any) error                       { return r.rows[r.idx](dest...) }
func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// --- Mock BatchResults ---

type mockBatchResults struct {
	execErrs []error
	idx      int
	closed   bool
	closeErr error
}

func (b *mockBatchResults) Exec() (pgconn.CommandTag, error) {
	var err error
	if b.idx < len(b.execErrs) {
		err = b.execErrs[b.idx]
	}
	b.idx++
	return pgconn.NewCommandTag("UPDATE 1"), err
}

func (b *mockBatchResults) Query() (pgx.Rows, error) { return nil, nil }
func (b *mockBatchResults) QueryRow() pgx.Row        { return &mockRow{} }
func (b *mockBatchResults) Close() error {
	b.closed = true
	return b.closeErr
}

// --- Row fixtures ---

type listingFixture struct {
	id       string
	owner    string
	status   string
	priority int64
	boost    any
}

// scanListingFixture fills listingColumns destinations from f.
func scanListingFixture(f listingFixture) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = f.id
		*dest[1].(*string) = f.owner
		*dest[2].(*string) = "Road bike"
		*dest[3].(*string) = f.status
		*dest[4].(*int64) = f.priority
		if f.boost != nil {
			raw, err := json.Marshal(f.boost)
			if err != nil {
				return err
			}
			*dest[5].(*[]byte) = raw
		}
		*dest[6].(*time.Time) = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		return nil
	}
}

func containsAll(sql string, fragments ...string) bool {
	for _, f := range fragments {
		if !strings.Contains(sql, f) {
			return false
		}
	}
	return true
}
