package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"winkdrops/internal/metrics"
	"winkdrops/internal/storage"
	logx "winkdrops/pkg/logx"
)

// Category is an alert event category; each has a user on/off setting.
type Category string

const (
	NewWink              Category = "newWink"
	NewNudge             Category = "newNudge"
	SecondOpinionRequest Category = "secondOpinionRequest"
	CommunityReaction    Category = "communityReaction"
	WinkUpdate           Category = "winkUpdate"
	NewForumMessage      Category = "newForumMessage"
)

var Categories = []Category{NewWink, NewNudge, SecondOpinionRequest, CommunityReaction, WinkUpdate, NewForumMessage}

var ErrUnknownCategory = errors.New("unknown alert category")

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Settings holds one flag per category. Persisted as a JSON object keyed by
// category name; missing keys mean enabled.
type Settings map[Category]bool

func DefaultSettings() Settings {
	s := make(Settings, len(Categories))
	for _, c := range Categories {
		s[c] = true
	}
	return s
}

func (s Settings) clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SettingsStore owns the notification settings and writes through on update.
type SettingsStore struct {
	kv  storage.KV
	log logx.Logger

	mu  sync.RWMutex
	cur Settings
}

func NewSettingsStore(kv storage.KV, log logx.Logger) *SettingsStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	if kv == nil {
		kv = storage.NewMemory()
	}
	return &SettingsStore{kv: kv, log: log, cur: DefaultSettings()}
}

// Load restores persisted settings. Absent or malformed state means all enabled.
func (s *SettingsStore) Load(ctx context.Context) error {
	next := DefaultSettings()
	b, ok, err := s.kv.Get(ctx, storage.KeyNotificationSettings)
	if err != nil {
		s.log.Warn("notification settings unreadable; using defaults", logx.Err(err))
	} else if ok {
		var raw map[string]bool
		if jerr := json.Unmarshal(b, &raw); jerr != nil {
			s.log.Warn("notification settings malformed; using defaults", logx.Err(jerr))
		} else {
			for k, v := range raw {
				if c, perr := ParseCategory(k); perr == nil {
					next[c] = v
				}
			}
		}
	}
	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	return err
}

// Get returns a copy of the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

func (s *SettingsStore) Enabled(c Category) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cur[c]
	if !ok {
		// Unknown categories have no setting and are never shown.
		return false
	}
	return v
}

// Update merges patch into the settings and persists the result. Unknown
// categories reject the whole patch. A failed write keeps the new in-memory
// settings and is returned.
func (s *SettingsStore) Update(ctx context.Context, patch map[Category]bool) (Settings, error) {
	for c := range patch {
		if _, err := ParseCategory(string(c)); err != nil {
			return s.Get(), err
		}
	}

	// The write happens under the lock so storage never lags memory.
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur.clone()
	for c, v := range patch {
		next[c] = v
	}
	s.cur = next
	out := next.clone()

	b, err := json.Marshal(out)
	if err == nil {
		err = s.kv.Put(ctx, storage.KeyNotificationSettings, b)
	}
	if err != nil {
		metrics.PersistFailures.WithLabelValues(storage.KeyNotificationSettings).Inc()
		s.log.Warn("persist notification settings failed", logx.Err(err))
		return out, err
	}
	return out, nil
}
