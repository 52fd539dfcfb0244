package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{"plain", "generated/t1/slot-0.png", "generated/t1/slot-0.png", false},
		{"leading slash", "/a/b.png", "a/b.png", false},
		{"backslashes", `a\b.png`, "a/b.png", false},
		{"dot segments", "./a/../b.png", "b.png", false},
		{"empty", "  ", "", true},
		{"escape", "../etc/passwd", "", true},
		{"nested escape", "a/../../b", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CleanKey(tc.key)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFileStoreSave(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewFileStore(root, "http://cdn.local/images/")
	require.NoError(t, err)

	url, err := store.Save(context.Background(), ImageKey("t1", 2, "image/png"), []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.local/images/generated/t1/slot-2.png", url)

	data, err := os.ReadFile(filepath.Join(root, "generated", "t1", "slot-2.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = os.Stat(filepath.Join(root, "generated", "t1", "slot-2.png.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreSaveRejects(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir(), "")
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "../outside.png", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Save(ctx, "a.png", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)

	var nilStore *FileStore
	_, err = nilStore.Save(context.Background(), "a.png", nil)
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestNewFileStoreRequiresRoot(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore(" ", "http://x")
	assert.Error(t, err)
}

func TestImageKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "generated/t1/slot-0.jpg", ImageKey("t1", -3, "image/jpeg"))
	assert.Equal(t, "generated/t1/slot-1.webp", ImageKey("t1", 1, "IMAGE/WEBP"))
	assert.Equal(t, "generated/t1/slot-1.bin", ImageKey("t1", 1, "application/x-unknown-thing"))
}

func TestURLWithoutBase(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, "/a/b.png", store.URL("a/b.png"))
}
