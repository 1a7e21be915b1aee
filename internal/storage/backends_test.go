package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "local.db")
	b := NewNativeBackend(path, nil)
	ctx := context.Background()

	require.True(t, b.Supported())

	_, err := b.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Save(ctx, []byte("blob-bytes")))
	blob, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-bytes"), blob)

	require.NoError(t, b.Clear(ctx))
	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	// Clearing twice is a no-op.
	require.NoError(t, b.Clear(ctx))
}

func TestNativeBackend_UnsupportedWithoutPath(t *testing.T) {
	b := NewNativeBackend("", nil)
	assert.False(t, b.Supported())
}

// stubBridge serves blob bytes through the synchronous host bridge.
type stubBridge struct {
	data     []byte
	queryErr error
}

func (s *stubBridge) QuerySync(string, []any) ([]map[string]any, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return []map[string]any{{"1": int64(1)}}, nil
}

func (s *stubBridge) ReadDBBytesSync() ([]byte, error) { return s.data, nil }

func TestNativeBackend_PrefersBridgeBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	b := NewNativeBackend(path, &stubBridge{data: []byte("bridge-bytes")})

	blob, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("bridge-bytes"), blob)
}

func TestNativeBackend_BridgeAnswersLivenessProbe(t *testing.T) {
	// No usable path: support rests entirely on the bridge answering.
	b := NewNativeBackend("", &stubBridge{})
	assert.True(t, b.Supported())

	broken := NewNativeBackend("", &stubBridge{queryErr: errors.New("bridge gone")})
	assert.False(t, broken.Supported())

	// A dead bridge with a writable path falls back to the file probe.
	path := filepath.Join(t.TempDir(), "local.db")
	fallback := NewNativeBackend(path, &stubBridge{queryErr: errors.New("bridge gone")})
	assert.True(t, fallback.Supported())
}

func TestFileAreaBackend_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := NewFileAreaBackend(fs, "/sandbox", "local.db", 0)
	ctx := context.Background()

	require.True(t, b.Supported())

	_, err := b.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Save(ctx, []byte("payload")))
	blob, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), blob)

	require.NoError(t, b.Clear(ctx))
	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileAreaBackend_QuotaRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := NewFileAreaBackend(fs, "/sandbox", "local.db", 8)

	err := b.Save(context.Background(), make([]byte, 16))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestBadgerBackend_RoundTrip(t *testing.T) {
	b := NewBadgerBackend(BadgerConfig{InMemory: true})
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	require.True(t, b.Supported())

	_, err := b.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Save(ctx, []byte("badger-blob")))
	blob, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("badger-blob"), blob)

	require.NoError(t, b.Clear(ctx))
	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerBackend_Quota(t *testing.T) {
	b := NewBadgerBackend(BadgerConfig{InMemory: true, Quota: 8})
	t.Cleanup(func() { b.Close() })

	err := b.Save(context.Background(), make([]byte, 64))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestLevelBackend_RoundTrip(t *testing.T) {
	b := NewLevelBackend(filepath.Join(t.TempDir(), "level"), 0)
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	require.True(t, b.Supported())

	_, err := b.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Save(ctx, []byte("level-blob")))
	blob, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("level-blob"), blob)

	require.NoError(t, b.Clear(ctx))
	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLevelBackend_QuotaCap(t *testing.T) {
	b := NewLevelBackend(filepath.Join(t.TempDir(), "level"), 16)
	t.Cleanup(func() { b.Close() })

	err := b.Save(context.Background(), make([]byte, 32))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	assert.Equal(t, int64(16), b.Quota())
}

func TestLevelBackend_DefaultQuota(t *testing.T) {
	b := NewLevelBackend(filepath.Join(t.TempDir(), "level"), 0)
	t.Cleanup(func() { b.Close() })
	assert.Equal(t, int64(DefaultLevelQuota), b.Quota())
}
