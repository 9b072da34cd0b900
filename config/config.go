// Package config loads the static, file-based configuration spec §1 and
// §9 describe as out of scope for wire format but load-bearing for
// semantics: the peer list and the leader's batching parameters. Ported
// from original_source/src/config_loader.cpp and
// original_source/src/leader_config.cpp, which load these as small
// hand-parsed text/JSON files rather than a general config framework.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadPeers reads the peer address list from path. The reference loader
// tolerates two textual forms: a JSON array of strings, or a bare
// comma-separated list (original_source/src/config_loader.cpp trims
// brackets and quotes either way); this loader accepts both for the same
// reason -- peers.json in deployments has been hand-edited both ways.
func LoadPeers(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read peers file %s: %w", path, err)
	}

	var arr []string
	if json.Unmarshal(data, &arr) == nil {
		return trimAll(arr), nil
	}

	text := strings.TrimSpace(string(data))
	text = strings.Trim(text, "[]")
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	return trimAll(parts), nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		s = strings.Trim(s, `"`)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LeaderConfig is the leader's static batching policy (spec §4.3).
// LoadLeaderConfig rejects a leader.json missing any of the three fields.
type LeaderConfig struct {
	LeaderAddr         string `json:"leader_addr"`
	BatchSize          int    `json:"batch_size"`
	BatchIntervalSecs  int    `json:"batch_interval_s"`
}

// LoadLeaderConfig reads and validates leader.json. Every field is
// mandatory (original_source/src/leader_config.cpp throws rather than
// defaulting any of them), since a missing batch_size or batch_interval_s
// would otherwise produce a scheduler whose wait for a batch returns
// immediately on every iteration.
func LoadLeaderConfig(path string) (LeaderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LeaderConfig{}, fmt.Errorf("config: read leader config %s: %w", path, err)
	}

	var cfg LeaderConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return LeaderConfig{}, fmt.Errorf("config: parse leader config %s: %w", path, err)
	}

	if cfg.LeaderAddr == "" {
		return LeaderConfig{}, fmt.Errorf("config: %s: missing leader_addr", path)
	}
	if cfg.BatchSize <= 0 {
		return LeaderConfig{}, fmt.Errorf("config: %s: missing or invalid batch_size", path)
	}
	if cfg.BatchIntervalSecs <= 0 {
		return LeaderConfig{}, fmt.Errorf("config: %s: missing or invalid batch_interval_s", path)
	}
	return cfg, nil
}
