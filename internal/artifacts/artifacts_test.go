package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	s := NewDirStore(dir)

	loc, err := s.Save(context.Background(), "error-R-1-42.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "error-R-1-42.png"), loc)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)
}

func TestDirStore_RejectsPaths(t *testing.T) {
	s := NewDirStore(t.TempDir())
	for _, name := range []string{"", "..", "a/b.png", `a\b.png`} {
		_, err := s.Save(context.Background(), name, nil)
		assert.Error(t, err, name)
	}
}

func TestDirStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDirStore(t.TempDir()).Save(ctx, "x.png", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestS3Config(t *testing.T) {
	assert.False(t, S3Config{}.Enabled())

	valid := S3Config{Endpoint: "localhost:9000", Bucket: "artifacts", AccessKey: "a", SecretKey: "b"}
	assert.True(t, valid.Enabled())
	assert.NoError(t, valid.Validate())

	withScheme := valid
	withScheme.Endpoint = "http://localhost:9000"
	assert.Error(t, withScheme.Validate())

	noBucket := valid
	noBucket.Bucket = ""
	assert.Error(t, noBucket.Validate())

	assert.Equal(t, "error-1.png", valid.key("error-1.png"))
	valid.Prefix = "/heaven/"
	assert.Equal(t, "heaven/error-1.png", valid.key("error-1.png"))
}

func TestNewS3Store(t *testing.T) {
	s, err := NewS3Store(S3Config{Endpoint: "localhost:9000", Bucket: "artifacts", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.NotNil(t, s.client)

	_, err = NewS3Store(S3Config{})
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType("a.PNG"))
	assert.Equal(t, "application/octet-stream", contentType("a.bin"))
}
