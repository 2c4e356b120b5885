package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"winkdrops/internal/storage"
	logx "winkdrops/pkg/logx"
)

func TestSettingsDefaults(t *testing.T) {
	t.Parallel()
	s := NewSettingsStore(storage.NewMemory(), logx.Nop())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	for _, c := range Categories {
		if !s.Enabled(c) {
			t.Fatalf("Enabled(%s) = false, want true by default", c)
		}
	}
	if s.Enabled("mystery") {
		t.Fatal("Enabled(unknown) = true")
	}
}

func TestSettingsLoadMergesMissingKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	_ = kv.Put(ctx, storage.KeyNotificationSettings, []byte(`{"newNudge":false,"legacyThing":false}`))
	s := NewSettingsStore(kv, logx.Nop())
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	got := s.Get()
	if got[NewNudge] || !got[NewWink] || !got[NewForumMessage] {
		t.Fatalf("settings = %v, want newNudge off and the rest on", got)
	}
	if _, ok := got["legacyThing"]; ok {
		t.Fatal("unknown persisted key kept")
	}
}

func TestSettingsLoadMalformed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	_ = kv.Put(ctx, storage.KeyNotificationSettings, []byte(`[true]`))
	s := NewSettingsStore(kv, logx.Nop())
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(s.Get()) != len(Categories) || !s.Enabled(WinkUpdate) {
		t.Fatalf("settings = %v, want defaults", s.Get())
	}
}

func TestSettingsUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	s := NewSettingsStore(kv, logx.Nop())

	got, err := s.Update(ctx, map[Category]bool{CommunityReaction: false})
	if err != nil || got[CommunityReaction] || !got[NewWink] {
		t.Fatalf("Update() = %v, %v", got, err)
	}
	if _, err := s.Update(ctx, map[Category]bool{"bogus": true, NewWink: false}); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("Update(bogus) = %v, want ErrUnknownCategory", err)
	}
	if !s.Enabled(NewWink) {
		t.Fatal("rejected patch applied partially")
	}

	restored := NewSettingsStore(kv, logx.Nop())
	_ = restored.Load(ctx)
	if restored.Enabled(CommunityReaction) || !restored.Enabled(SecondOpinionRequest) {
		t.Fatalf("restored = %v", restored.Get())
	}
}

// heldKV blocks the first Put until release is closed.
type heldKV struct {
	storage.KV
	once    sync.Once
	holding chan struct{}
	release chan struct{}
}

func (h *heldKV) Put(ctx context.Context, key string, v []byte) error {
	first := false
	h.once.Do(func() { first = true })
	if first {
		close(h.holding)
		<-h.release
	}
	return h.KV.Put(ctx, key, v)
}

func TestSettingsConcurrentUpdatesPersistInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := &heldKV{KV: storage.NewMemory(), holding: make(chan struct{}), release: make(chan struct{})}
	s := NewSettingsStore(kv, logx.Nop())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Update(ctx, map[Category]bool{NewWink: false})
	}()
	<-kv.holding
	go func() {
		defer wg.Done()
		_, _ = s.Update(ctx, map[Category]bool{NewWink: true})
	}()
	time.Sleep(20 * time.Millisecond)
	close(kv.release)
	wg.Wait()

	raw, ok, err := kv.KV.Get(ctx, storage.KeyNotificationSettings)
	if err != nil || !ok {
		t.Fatalf("stored settings missing: ok=%v err=%v", ok, err)
	}
	var stored map[Category]bool
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("stored settings: %v", err)
	}
	if stored[NewWink] != s.Enabled(NewWink) {
		t.Fatalf("stored newWink = %v, memory = %v", stored[NewWink], s.Enabled(NewWink))
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()
	for _, c := range Categories {
		if got, err := ParseCategory(string(c)); err != nil || got != c {
			t.Fatalf("ParseCategory(%s) = %s, %v", c, got, err)
		}
	}
	if _, err := ParseCategory("NewWink"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("ParseCategory is case-insensitive: %v", err)
	}
}
