package archiver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_SaveWritesImageAndFeatures(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(filepath.Join(dir, "out"))
	require.NoError(t, err, "missing directory gets created")

	rec := Record{
		Filename:      "frame_1.png",
		Image:         []byte{1, 2, 3},
		Features:      []byte{4, 5, 6, 7},
		KeypointCount: 0,
		ReceivedAt:    time.Now(),
	}
	require.NoError(t, store.Save(context.Background(), rec))

	img, err := os.ReadFile(filepath.Join(dir, "out", "frame_1.png"))
	require.NoError(t, err)
	assert.Equal(t, rec.Image, img)

	feat, err := os.ReadFile(filepath.Join(dir, "out", "frame_1.png.feat"))
	require.NoError(t, err)
	assert.Equal(t, rec.Features, feat)

	require.NoError(t, store.Close(context.Background()))
}

func TestDiskStore_FlattensPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)

	rec := Record{
		Filename: "../../etc/escape.png",
		Image:    []byte{1},
		Features: []byte{},
	}
	require.NoError(t, store.Save(context.Background(), rec))

	// The file lands inside the output directory under its base name.
	_, err = os.Stat(filepath.Join(dir, "escape.png"))
	require.NoError(t, err)
}

func TestDiskStore_RejectsUnusableFilename(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	err = store.Save(context.Background(), Record{Filename: ".."})
	require.Error(t, err)
}

func TestNewDiskStore_EmptyDir(t *testing.T) {
	_, err := NewDiskStore("")
	require.Error(t, err)
}
