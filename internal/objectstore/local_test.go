package objectstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ragfolio/internal/util"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	loc, err := store.Save(ctx, "tenant-a", "Report.PDF", []byte("payload"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loc, "tenant-a/"))
	require.True(t, strings.HasSuffix(loc, ".pdf"))

	data, err := store.Read(ctx, loc)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	removed, err := store.Delete(ctx, loc)
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = store.Delete(ctx, loc)
	require.NoError(t, err)
	require.False(t, removed)

	_, err = store.Read(ctx, loc)
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestLocalRejectsTraversal(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read(context.Background(), "../../etc/passwd")
	require.Error(t, err)
	_, err = store.Delete(context.Background(), "/etc/passwd")
	require.Error(t, err)
}

func TestLocalSanitizesTenantSegment(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	loc, err := store.Save(context.Background(), "../evil", "a.txt", []byte("x"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loc, "___evil/"))
}
