package threadstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	dsn, err := DSNForFile(path)
	require.NoError(t, err)
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	ok, err := s.HasThread(ctx, "local_1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.CreateThread(ctx, "local_1", 100))
	require.NoError(t, s.CreateThread(ctx, "local_1", 200))
	require.Error(t, s.CreateThread(ctx, "  ", 200))

	ok, err = s.HasThread(ctx, "local_1")
	require.NoError(t, err)
	require.True(t, ok)

	msgs, err := s.ListMessages(ctx, "local_1")
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.NoError(t, s.AppendMessage(ctx, Message{ID: "m1", ThreadID: "local_1", Role: RoleUser, Text: "hi", CreatedAtMs: 110}))
	require.NoError(t, s.AppendMessage(ctx, Message{ID: "m2", ThreadID: "local_1", Role: RoleAssistant, Text: "hello", CreatedAtMs: 110}))

	msgs, err = s.ListMessages(ctx, "local_1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, "hello", msgs[1].Text)

	err = s.AppendMessage(ctx, Message{ID: "m3", ThreadID: "nope", Role: RoleUser, Text: "x"})
	require.True(t, errors.Is(err, ErrThreadNotFound))
	_, err = s.ListMessages(ctx, "nope")
	require.True(t, errors.Is(err, ErrThreadNotFound))

	require.Error(t, s.AppendMessage(ctx, Message{ID: "m4", ThreadID: "local_1", Role: "system", Text: "x"}))
	require.Error(t, s.AppendMessage(ctx, Message{ThreadID: "local_1", Role: RoleUser, Text: "x"}))

	// re-creating a thread keeps its messages
	require.NoError(t, s.CreateThread(ctx, "local_1", 300))
	msgs, err = s.ListMessages(ctx, "local_1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestInMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewInMemoryStore())
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, newSQLiteStore(t, filepath.Join(t.TempDir(), "threads.db")))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.db")
	ctx := context.Background()

	s1 := newSQLiteStore(t, path)
	require.NoError(t, s1.CreateThread(ctx, "local_a", 1))
	require.NoError(t, s1.AppendMessage(ctx, Message{ID: "m1", ThreadID: "local_a", Role: RoleUser, Text: "persist me", CreatedAtMs: 2}))
	require.NoError(t, s1.Close())

	s2 := newSQLiteStore(t, path)
	msgs, err := s2.ListMessages(ctx, "local_a")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "persist me", msgs[0].Text)
}

func TestDSNForFile(t *testing.T) {
	_, err := DSNForFile("")
	require.Error(t, err)
	dsn, err := DSNForFile("/tmp/x.db")
	require.NoError(t, err)
	require.Contains(t, dsn, "_journal_mode=WAL")
}
