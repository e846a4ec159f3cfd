package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/vellumbot/internal/store"
	"github.com/MrWong99/vellumbot/internal/store/storetest"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows over string columns.
type mockRows struct {
	data   [][]string
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	for i := range dest {
		*dest[i].(*string) = row[i]
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	var got string
	s := New(&mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		got = sql
		return pgconn.CommandTag{}, nil
	}})
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if got != Schema {
		t.Error("Migrate did not execute Schema")
	}

	s = New(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("boom")
	}})
	err := s.Migrate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want wrapped boom", err)
	}
}

func TestAlias_NotFound(t *testing.T) {
	t.Parallel()
	s := New(&mockDB{})
	if _, err := s.Alias(context.Background(), "GeeEm", "init"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := s.User(context.Background(), "GeeEm"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := s.Session(context.Background(), "#testing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSetAlias_KeysOwner(t *testing.T) {
	t.Parallel()

	var args []any
	s := New(&mockDB{execFunc: func(_ context.Context, _ string, a ...any) (pgconn.CommandTag, error) {
		args = a
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}})
	if err := s.SetAlias(context.Background(), " GeeEm ", "init", "20"); err != nil {
		t.Fatalf("SetAlias: %v", err)
	}
	if len(args) != 3 || args[0] != "geeem" || args[1] != "init" || args[2] != "20" {
		t.Errorf("args = %v, want [geeem init 20]", args)
	}
}

func TestRemoveAlias_RowsAffected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  string
		want bool
	}{
		{tag: "DELETE 1", want: true},
		{tag: "DELETE 0", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			t.Parallel()
			s := New(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
				return pgconn.NewCommandTag(tt.tag), nil
			}})
			got, err := s.RemoveAlias(context.Background(), "GeeEm", "init")
			if err != nil {
				t.Fatalf("RemoveAlias: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAliases_ScansRows(t *testing.T) {
	t.Parallel()

	rows := &mockRows{data: [][]string{{"init", "20"}, {"argh", "d20+2"}}}
	s := New(&mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
		return rows, nil
	}})
	got, err := s.Aliases(context.Background(), "GeeEm")
	if err != nil {
		t.Fatalf("Aliases: %v", err)
	}
	if len(got) != 2 || got["init"] != "20" || got["argh"] != "d20+2" {
		t.Errorf("got %v", got)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestRenameOwner_SameKeyIsNoop(t *testing.T) {
	t.Parallel()

	called := false
	s := New(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		called = true
		return pgconn.CommandTag{}, nil
	}})
	if err := s.RenameOwner(context.Background(), "GeeEm", "geeem"); err != nil {
		t.Fatalf("RenameOwner: %v", err)
	}
	if called {
		t.Error("expected no statement for a case-only rename")
	}
}

func TestSaveSession_NilObservers(t *testing.T) {
	t.Parallel()

	var observers any
	s := New(&mockDB{execFunc: func(_ context.Context, _ string, a ...any) (pgconn.CommandTag, error) {
		observers = a[2]
		return pgconn.CommandTag{}, nil
	}})
	if err := s.SaveSession(context.Background(), store.SessionRecord{Channel: "#testing"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if got, ok := observers.([]string); !ok || got == nil {
		t.Errorf("observers = %#v, want empty non-nil slice", observers)
	}
}

// The contract suite runs only against a real server.
func TestStoreContract(t *testing.T) {
	dsn := os.Getenv("VELLUM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VELLUM_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		for _, tbl := range []string{"vellum_aliases", "vellum_users", "vellum_sessions"} {
			if _, err := s.db.Exec(ctx, "TRUNCATE "+tbl); err != nil {
				t.Fatalf("truncate %s: %v", tbl, err)
			}
		}
		return s
	})
}
