package config

import (
	"reflect"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "ENV", "DATABASE_URL", "TOPIC_IDS", "PAGE_LIMIT", "POLL_INTERVAL_MS", "STATS_INTERVAL_HOURS", "HISTORY_DAYS"} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" || !cfg.IsDevelopment() {
		t.Errorf("port %q env %q", cfg.Port, cfg.Env)
	}
	if cfg.PageLimit != 100 || cfg.PollInterval != 5*time.Second || cfg.PageDelay != 100*time.Millisecond {
		t.Errorf("mirror defaults = %d %v %v", cfg.PageLimit, cfg.PollInterval, cfg.PageDelay)
	}
	if cfg.StatsInterval != time.Hour || cfg.HistoryDays != 30 || cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("stats defaults = %v %d %v", cfg.StatsInterval, cfg.HistoryDays, cfg.HTTPTimeout)
	}
	if cfg.TopicIDs != nil {
		t.Errorf("topics = %v, want none", cfg.TopicIDs)
	}
}

func TestFromEnvTopics(t *testing.T) {
	t.Setenv("TOPIC_IDS", " 0.0.1001, ,0.0.1002,")
	t.Setenv("POLL_INTERVAL_MS", "250")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"0.0.1001", "0.0.1002"}; !reflect.DeepEqual(cfg.TopicIDs, want) {
		t.Errorf("topics = %v, want %v", cfg.TopicIDs, want)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval)
	}
}

func TestFromEnvValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"page limit too large", map[string]string{"PAGE_LIMIT": "500"}},
		{"zero poll interval", map[string]string{"POLL_INTERVAL_MS": "0"}},
		{"production without database", map[string]string{"ENV": "production", "TOPIC_IDS": "0.0.1"}},
		{"production without topics", map[string]string{"ENV": "production", "DATABASE_URL": "postgres://x", "TOPIC_IDS": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
