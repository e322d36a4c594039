package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAndValidate(t *testing.T) {
	doc := Config{
		Coin:    Coin{Name: "Komodo", Symbol: "KMD", Algo: "komodo"},
		Address: "RXissBofTzqNFb5v6MsZyzFzoQGVbqbKW8",
		Daemons: []Daemon{{Host: "127.0.0.1", Port: 7771, User: "u", Password: "p"}},
		Ports:   map[string]Port{"3333": {Diff: 32}},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pool.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Coin.Symbol != "KMD" {
		t.Errorf("symbol = %q, want KMD", cfg.Coin.Symbol)
	}
}

func TestValidateRejectsMissingDaemons(t *testing.T) {
	cfg := Config{Coin: Coin{Symbol: "KMD"}, Address: "addr", Ports: map[string]Port{"3333": {Diff: 1}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error with no daemons configured")
	}
}
