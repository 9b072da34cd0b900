package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"
)

// tomlSettings mirrors cmd/berith/config.go's naming convention: TOML keys
// are taken verbatim from the Go struct field names instead of being
// lower-cased, so a config file can be written by hand without guessing a
// separate casing convention.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// Overrides is an optional TOML file a deployment can pass via
// `auditledgerd --config`, overriding the CLI's --listen/--data-dir
// defaults. It is not part of spec.md's mandatory wire contract (that is
// peers.json/leader.json/chain.json, loaded elsewhere in this package as
// plain JSON); it exists only so an operator can check one file into a
// deployment repo instead of repeating flags, the same role
// cmd/berith/config.go's --config plays for node/RPC settings.
type Overrides struct {
	Listen  string `toml:",omitempty"`
	DataDir string `toml:",omitempty"`
}

// LoadOverrides reads a TOML overrides file. A field left out of the file
// keeps its zero value, which callers treat as "no override".
func LoadOverrides(path string) (Overrides, error) {
	f, err := os.Open(path)
	if err != nil {
		return Overrides{}, fmt.Errorf("config: open overrides file %s: %w", path, err)
	}
	defer f.Close()

	var out Overrides
	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&out); err != nil {
		return Overrides{}, fmt.Errorf("config: parse overrides file %s: %w", path, err)
	}
	return out, nil
}

// Apply overlays any non-empty field of o onto listen/dataDir, returning
// the effective values the caller should use.
func (o Overrides) Apply(listen, dataDir string) (string, string) {
	if o.Listen != "" {
		listen = o.Listen
	}
	if o.DataDir != "" {
		dataDir = o.DataDir
	}
	return listen, dataDir
}
