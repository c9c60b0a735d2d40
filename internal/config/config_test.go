package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[consensus]
mode = "Leader"
max_rounds = 3

[oracle]
model = "gpt-4.1"
timeout_ms = 2000

[env]
kind = "nats"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Consensus.Mode != "leader" || cfg.Consensus.MaxRounds != 3 {
		t.Fatalf("unexpected consensus config: %+v", cfg.Consensus)
	}
	if cfg.Consensus.TranscriptCap != 8 || cfg.Consensus.FramingTurns != 2 || cfg.Consensus.AcceptToken != "ACCEPT" {
		t.Fatalf("consensus defaults not applied: %+v", cfg.Consensus)
	}
	if cfg.Oracle.Timeout() != 2*time.Second {
		t.Fatalf("expected 2s oracle timeout, got %s", cfg.Oracle.Timeout())
	}
	if cfg.Round.StepHistoryWindow != 5 || cfg.Round.MessageLogCap != 30 {
		t.Fatalf("round defaults not applied: %+v", cfg.Round)
	}
	if cfg.Env.SubjectPrefix != "wildfire" {
		t.Fatalf("expected default subject prefix, got %q", cfg.Env.SubjectPrefix)
	}
	if cfg.Path != path {
		t.Fatalf("expected path %q, got %q", path, cfg.Path)
	}
	if _, ok := cfg.Raw["consensus"]; !ok {
		t.Fatalf("expected raw consensus section")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "mode", content: "[consensus]\nmode = \"vote\"\n", want: "consensus.mode"},
		{name: "fallback", content: "[consensus]\nfallback = \"retry\"\n", want: "consensus.fallback"},
		{name: "transcript", content: "[consensus]\ntranscript_cap = 3\nframing_turns = 2\n", want: "transcript_cap"},
		{name: "env", content: "[env]\nkind = \"grpc\"\n", want: "env.kind"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
