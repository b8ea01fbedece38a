package localfs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidforge/internal/ports"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	l := New(t.TempDir())

	out, err := l.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   "renders/j1/video.mp4",
		ContentType: "video/mp4",
		Reader:      bytes.NewReader([]byte("encoded video")),
		Size:        13,
	})
	require.NoError(t, err)
	assert.Equal(t, "renders/j1/video.mp4", out.ObjectKey)
	assert.Equal(t, int64(13), out.Size)

	rc, contentType, size, err := l.GetObject(ctx, "renders/j1/video.mp4")
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "encoded video", string(body))
	assert.Equal(t, int64(13), size)
	assert.Equal(t, "video/mp4", contentType)

	require.NoError(t, l.DeleteObject(ctx, "renders/j1/video.mp4"))
	_, _, _, err = l.GetObject(ctx, "renders/j1/video.mp4")
	assert.Error(t, err)
}

func TestPutObjectRequiresKey(t *testing.T) {
	l := New(t.TempDir())
	_, err := l.PutObject(context.Background(), ports.PutObjectInput{Reader: bytes.NewReader(nil)})
	assert.Error(t, err)
}

func TestPutObjectCreatesNestedDirs(t *testing.T) {
	root := t.TempDir()
	l := New(root)

	_, err := l.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey: "a/b/c/file.bin",
		Reader:    bytes.NewReader([]byte("x")),
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "a", "b", "c", "file.bin"))
	assert.NoError(t, err)
}

func TestGetSignedURLIsEmpty(t *testing.T) {
	l := New(t.TempDir())

	signed, err := l.GetSignedURL(context.Background(), "any", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, signed.URL)
	assert.False(t, signed.ExpiresAt.IsZero())
}
