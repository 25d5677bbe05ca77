package sessions

import (
	"context"
	"fmt"

	"github.com/dohr-michael/echovision/internal/config"
)

// OpenStore builds the snapshot store selected by cfg.Driver.
// The "memory" driver returns a nil store: sessions live only in process.
func OpenStore(ctx context.Context, cfg config.SessionsConfig) (SnapshotStore, error) {
	switch cfg.Driver {
	case "file", "":
		return NewFileStore(cfg.Dir), nil
	case "sqlite":
		store, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		store, err := DialRedisStore(ctx, cfg.RedisURL, cfg.RedisTTL.Duration())
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown sessions driver %q", cfg.Driver)
	}
}
