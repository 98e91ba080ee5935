package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DeviceIDKey = "device_id"

var deviceMu sync.Mutex

// DeviceID returns the UUID stored under key, creating and saving one on first use.
func DeviceID(ctx context.Context, kv core.KVStore, key string) (string, error) {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	if id, ok, err := kv.Get(ctx, key); err != nil {
		return "", err
	} else if ok {
		if _, err := uuid.Parse(id); err == nil {
			return id, nil
		}
		log.Warn().Str("module", "store").Str("key", key).Msg("stored device id is not a uuid, replacing")
	}

	id := uuid.NewString()
	if err := kv.Set(ctx, key, id); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	log.Info().Str("module", "store").Str("device_id", id).Msg("created device id")
	return id, nil
}
