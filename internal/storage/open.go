package storage

import (
	"errors"
	"strings"

	logx "plankabot/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	seal, err := newSealer(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	switch driver {
	case "", "file", "memory":
		return openFile(cfg, seal, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, seal, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
