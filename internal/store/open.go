package store

import (
	"context"
	"fmt"

	"github.com/christopherjohns/chatrelay/internal/config"
)

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Gateway, error) {
	var (
		gw  Gateway
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemory(), nil
	case config.DriverMongo:
		var s *Mongo
		s, err = OpenMongo(ctx, cfg.URI, cfg.Database)
		gw = s
	case config.DriverRedis:
		var s *Redis
		s, err = OpenRedis(ctx, cfg.URI, cfg.Retention)
		gw = s
	case config.DriverPostgres:
		var s *Postgres
		s, err = OpenPostgres(ctx, cfg.URI)
		gw = s
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return gw, nil
}
