package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "winkdrops/pkg/logx"
)

// ConfigManager owns the active config, reloads it when the file changes and
// fans accepted versions out to subscribers.
type ConfigManager struct {
	path     string
	debounce time.Duration

	mu  sync.RWMutex
	cfg *Config
	sum [sha256.Size]byte

	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop(), debounce: 250 * time.Millisecond}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator adds an app-level check run on reloads after Validate.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

func (m *ConfigManager) read() (*Config, [sha256.Size]byte, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := Decode(m.path, b)
	return cfg, sha256.Sum256(b), err
}

// Load reads, validates and activates the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, sum, err := m.read()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel receiving each accepted reload. A slow
// subscriber only ever sees the newest pending config.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if i := slices.Index(m.subs, ch); i >= 0 {
		m.subs = slices.Delete(m.subs, i, i+1)
		close(ch)
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// Full: drop the stale entry and try again.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (m *ConfigManager) reload(ctx context.Context) {
	cfg, sum, err := m.read()
	if err != nil {
		m.log.Warn("config reload failed; keeping current config", logx.String("path", m.path), logx.Err(err))
		return
	}
	m.mu.RLock()
	same := sum == m.sum
	m.mu.RUnlock()
	if same {
		return
	}

	err = Validate(cfg)
	if err == nil && m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = m.validator(vctx, cfg)
		cancel()
	}
	if err != nil {
		m.log.Warn("config rejected; keeping current config", logx.String("path", m.path), logx.Err(err))
		return
	}

	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
	m.publish(cfg)
	m.log.Debug("config accepted", logx.String("path", m.path), logx.String("sha256", fmt.Sprintf("%x", sum[:6])))
}

// Watch reloads the file after changes settle for the debounce period, until
// ctx is done. The directory is watched so editors that replace the file by
// rename are seen. A failed watcher is rebuilt with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	const (
		backoffMin = 250 * time.Millisecond
		backoffMax = 5 * time.Second
	)
	backoff := backoffMin
	for {
		err := m.watchOnce(ctx, func() { backoff = backoffMin })
		if ctx.Err() != nil {
			return nil
		}
		wait := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		backoff = min(backoff*2, backoffMax)
		m.log.Warn("config watcher failed; retrying", logx.Duration("in", wait), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (m *ConfigManager) watchOnce(ctx context.Context, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	started()

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settle.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watch events closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				settle.Reset(m.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watch errors closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				settle.Reset(m.debounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}
