package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles(t *testing.T) {
	files, err := Files()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_sync_attempts.sql", files[0])

	b, err := fs.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), "CREATE TABLE IF NOT EXISTS sync_attempts")
}

func TestFiles_LeaseColumnsAfterTable(t *testing.T) {
	files, err := Files()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 2)
	assert.Equal(t, "0002_attempt_lease.sql", files[1])

	b, err := fs.ReadFile(files[1])
	require.NoError(t, err)
	assert.Contains(t, string(b), "claimed_by")
	assert.Contains(t, string(b), "heartbeat_at")
}
