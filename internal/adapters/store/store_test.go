package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIDIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "roulette.db")
	stores := map[string]func(t *testing.T) core.KVStore{
		"memory": func(t *testing.T) core.KVStore { return NewMemoryStore() },
		"sqlite": func(t *testing.T) core.KVStore {
			s, err := OpenSQLite(path)
			require.NoError(t, err)
			return s
		},
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			kv := open(t)
			defer kv.Close()

			first, err := DeviceID(ctx, kv, DeviceIDKey)
			require.NoError(t, err)
			_, err = uuid.Parse(first)
			require.NoError(t, err)

			second, err := DeviceID(ctx, kv, DeviceIDKey)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "roulette.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", "v1"))
	require.NoError(t, s.Set(ctx, "k", "v2"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeviceIDReplacesGarbage(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	require.NoError(t, kv.Set(ctx, DeviceIDKey, "not-a-uuid"))

	id, err := DeviceID(ctx, kv, DeviceIDKey)
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", id)
}
