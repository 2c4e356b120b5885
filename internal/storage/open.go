package storage

import (
	"fmt"
	"sort"
	"strings"

	logx "winkdrops/pkg/logx"
)

type opener func(Config, logx.Logger) (KV, error)

var drivers = map[string]opener{
	"memory":  func(Config, logx.Logger) (KV, error) { return NewMemory(), nil },
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
	"redis":   openRedis,
}

// Drivers lists the accepted Config.Driver values.
func Drivers() []string {
	out := make([]string, 0, len(drivers))
	for name := range drivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open returns the store selected by cfg.Driver. An empty driver or "none"
// selects the in-memory store.
func Open(cfg Config, log logx.Logger) (KV, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		name = "memory"
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (want one of %s)", cfg.Driver, strings.Join(Drivers(), ", "))
	}
	kv, err := open(cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", name), logx.String("path", cfg.Path))
	return kv, nil
}
