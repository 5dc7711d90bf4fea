package persistence

import (
	"fmt"

	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
)

// NewPersister creates the persister selected by cfg.PersistenceConfig.Type. If cfg.HistoryConfig.CacheRooms is
// positive, the persister is wrapped by the history cache.
func NewPersister(cfg *config.Config) (Persister, error) {
	var p Persister
	var err error
	switch cfg.PersistenceConfig.Type {
	case "", "buntdb":
		p, err = NewBuntPersister(cfg)

	case "gorm":
		p, err = NewGormPersister(cfg)

	case "sql":
		p, err = NewSQLPersister(cfg)

	case "mongodb":
		p, err = NewMongoPersister(cfg)

	case "redis":
		p, err = NewRedisPersister(cfg)

	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
	}
	if err != nil {
		return nil, err
	}
	globals.AppLogger.Info("persistence configured", "type", cfg.PersistenceConfig.Type, "driver", cfg.PersistenceConfig.Driver)
	if cfg.HistoryConfig.CacheRooms > 0 {
		size := cfg.HistoryConfig.Limit
		if size <= 0 {
			size = DefaultHistoryLimit
		}
		cached, err := NewCachedPersister(p, cfg.HistoryConfig.CacheRooms, size)
		if err != nil {
			p.Close()
			return nil, err
		}
		return cached, nil
	}
	return p, nil
}
