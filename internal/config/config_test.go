package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
	}{
		{"unknown", `{"logging":{"level":"info"},"bogus":1}`},
		{"trailing", `{"logging":{"level":"info"}}{}`},
	}
	for _, tc := range cases {
		if _, err := Decode("c.json", []byte(tc.in)); err == nil {
			t.Fatalf("%s: Decode() error = nil, want error", tc.name)
		}
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	in := `
storage:
  driver: sqlite
  path: ./data/wd.db
scheduler:
  scan_interval: 10s
telegram:
  token: abc
  owner_user_ids: [1, 2]
`
	cfg, err := Decode("c.yaml", []byte(in))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Scheduler.Interval() != 10*time.Second {
		t.Fatalf("cfg = %+v, want sqlite and 10s", cfg)
	}
	if cfg.Telegram == nil || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram = %+v, want two owners", cfg.Telegram)
	}
}

func TestDecodeYAMLRejectsAmbiguity(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"duplicate key": "storage:\n  driver: file\n  driver: sqlite\n",
		"two documents": "logging:\n  level: info\n---\nlogging:\n  level: debug\n",
	}
	for name, in := range cases {
		if _, err := Decode("c.yaml", []byte(in)); err == nil {
			t.Fatalf("%s: Decode() error = nil", name)
		}
	}

	anchors := `
base: &alerts
  workers: 4
  retry_max: 1
alerts:
  <<: *alerts
  retry_max: 3
`
	// "base" is not a config field, so decode the converted JSON directly.
	jb, err := toJSON("c.yaml", []byte(anchors))
	if err != nil {
		t.Fatalf("toJSON() error: %v", err)
	}
	if !strings.Contains(string(jb), `"alerts":{"retry_max":3,"workers":4}`) {
		t.Fatalf("merged json = %s", jb)
	}
}

func TestDecodeExpandsEnv(t *testing.T) {
	t.Setenv("WD_TEST_TOKEN", "123:abc")
	in := `
telegram:
  token: ${WD_TEST_TOKEN}
push:
  subscriber: mailto:$literal
`
	cfg, err := Decode("c.yml", []byte(in))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Push.Subscriber != "mailto:$literal" {
		t.Fatalf("telegram = %+v, push = %+v", cfg.Telegram, cfg.Push)
	}
	if _, err := Decode("c.yml", []byte("telegram:\n  token: ${WD_TEST_UNSET_VAR}\n")); err == nil || !strings.Contains(err.Error(), "WD_TEST_UNSET_VAR") {
		t.Fatalf("unset variable error = %v", err)
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	t.Parallel()
	b, err := os.ReadFile(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("read example: %v", err)
	}
	cfg, err := Decode("config.example.yaml", b)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Alerts.BreakerCooldownDuration() != 30*time.Second || cfg.Alerts.OutboxSize != 200 {
		t.Fatalf("alerts = %+v", cfg.Alerts)
	}
}

func TestSchedulerDefaults(t *testing.T) {
	t.Parallel()
	var s SchedulerConfig
	if !s.IsEnabled() {
		t.Fatal("omitted scheduler should be enabled")
	}
	if got := s.Interval(); got != 30*time.Second {
		t.Fatalf("Interval() = %v, want 30s", got)
	}
	off := false
	s.Enabled = &off
	if s.IsEnabled() {
		t.Fatal("explicit enabled=false ignored")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"zero ok", Config{}, ""},
		{"bad driver", Config{Storage: StorageConfig{Driver: "etcd"}}, "storage.driver"},
		{"file needs path", Config{Storage: StorageConfig{Driver: "file"}}, "storage.path"},
		{"bad interval", Config{Scheduler: SchedulerConfig{ScanInterval: "soon"}}, "scan_interval"},
		{"tiny interval", Config{Scheduler: SchedulerConfig{ScanInterval: "10ms"}}, ">= 1s"},
		{"bad permission", Config{Push: PushConfig{Permission: "maybe"}}, "push.permission"},
		{"webpush keys", Config{Push: PushConfig{Driver: "webpush"}}, "vapid"},
		{"telegram push needs token", Config{Push: PushConfig{Driver: "telegram"}}, "telegram.token"},
	}
	for _, tc := range cases {
		err := Validate(&tc.cfg)
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: Validate() = %v, want nil", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: Validate() = %v, want error containing %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Push: PushConfig{Driver: "webpush", VAPIDPrivateKey: "s1"}}
	newCfg := &Config{
		Push:     PushConfig{Driver: "webpush", VAPIDPrivateKey: "s2"},
		Alerts:   AlertsConfig{Workers: 4},
		Telegram: &TelegramConfig{Token: "secret"},
	}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"alerts", "push", "telegram"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published after file change")
	}
}
