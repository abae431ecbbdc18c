package local_test

import (
	"bytes"
	"context"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookline/chessync/internal/storage/local"
)

func newAdapter(t *testing.T, prefix string) *local.Adapter {
	t.Helper()
	adapter, err := local.NewAdapter(t.TempDir(), prefix)
	require.NoError(t, err)
	return adapter
}

func TestNewAdapter_RequiresDirectory(t *testing.T) {
	_, err := local.NewAdapter("", "")
	assert.Error(t, err)
}

func TestUploadDownload_RoundTrip(t *testing.T) {
	adapter := newAdapter(t, "snapshots")
	ctx := context.Background()

	payload := []byte("parquet bytes")
	require.NoError(t, adapter.Upload(ctx, "run-1/games.parquet", bytes.NewReader(payload), "application/octet-stream"))

	reader, err := adapter.Download(ctx, "run-1/games.parquet")
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownload_MissingObject(t *testing.T) {
	adapter := newAdapter(t, "")

	_, err := adapter.Download(context.Background(), "nope.parquet")
	assert.Error(t, err)
}

func TestList_FiltersByPrefix(t *testing.T) {
	adapter := newAdapter(t, "snapshots")
	ctx := context.Background()

	for _, name := range []string{"run-1/games.parquet", "run-1/players.parquet", "run-2/games.parquet"} {
		require.NoError(t, adapter.Upload(ctx, name, bytes.NewReader([]byte("x")), ""))
	}

	var names []string
	err := adapter.List(ctx, "run-1/", func(objectName string) error {
		names = append(names, objectName)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, []string{"run-1/games.parquet", "run-1/players.parquet"}, names)
}

func TestList_EmptyDirectory(t *testing.T) {
	adapter := newAdapter(t, "never-created")

	err := adapter.List(context.Background(), "", func(string) error {
		t.Fatal("callback must not fire for an empty store")
		return nil
	})
	assert.NoError(t, err)
}

func TestDelete_IdempotentOnMissing(t *testing.T) {
	adapter := newAdapter(t, "")
	ctx := context.Background()

	require.NoError(t, adapter.Upload(ctx, "gone.parquet", bytes.NewReader([]byte("x")), ""))
	require.NoError(t, adapter.Delete(ctx, "gone.parquet"))

	_, err := adapter.Download(ctx, "gone.parquet")
	assert.Error(t, err)

	// A second delete of the same object stays quiet.
	assert.NoError(t, adapter.Delete(ctx, "gone.parquet"))
}

func TestResolvePath_RejectsEscapes(t *testing.T) {
	adapter := newAdapter(t, "")
	ctx := context.Background()

	err := adapter.Upload(ctx, "../escape.parquet", bytes.NewReader([]byte("x")), "")
	assert.Error(t, err)

	_, err = adapter.Download(ctx, "../../etc/passwd")
	assert.Error(t, err)
}
