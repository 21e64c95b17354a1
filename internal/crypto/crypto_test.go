package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	a, err := NewFromString(key)
	require.NoError(t, err)

	sealed, err := a.EncryptToString("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	plain, err := a.DecryptString(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	again, err := a.EncryptToString("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce is random")
}

func TestDecryptWithWrongKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	a1, err := NewFromString(k1)
	require.NoError(t, err)
	a2, err := NewFromString(k2)
	require.NoError(t, err)

	sealed, err := a1.EncryptToString("secret")
	require.NoError(t, err)
	_, err = a2.DecryptString(sealed)
	assert.Error(t, err)

	_, err = a1.DecryptString("AAAA")
	assert.Error(t, err)
}

func TestDecodeKeyFromFile(t *testing.T) {
	key, _ := GenerateKey()
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte(key+"\n"), 0o600))

	got, err := DecodeKey(path)
	require.NoError(t, err)
	assert.Len(t, got, 32)

	_, err = DecodeKey("   ")
	assert.Error(t, err)
	_, err = New([]byte("short"))
	assert.Error(t, err)
}
