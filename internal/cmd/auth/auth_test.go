package auth

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "localhost:8086" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
}

func TestParseConfigEnvOverride(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "FORTRESS_AUTH_ADDR" {
			return "env-addr", true
		}
		return "", false
	}

	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, lookup)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "env-addr" {
		t.Fatalf("expected env addr, got %q", cfg.Addr)
	}
}

func TestParseConfigFlagOverridesEnv(t *testing.T) {
	lookup := func(string) (string, bool) {
		return "env-addr", true
	}

	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-addr", "flag-addr"}, lookup)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "flag-addr" {
		t.Fatalf("expected flag addr, got %q", cfg.Addr)
	}
}
