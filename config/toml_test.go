package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesAppliesOnlyPresentFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.toml")
	require.NoError(t, os.WriteFile(path, []byte(`Listen = "10.0.0.5:50051"`+"\n"), 0o644))

	o, err := LoadOverrides(path)
	require.NoError(t, err)

	listen, dataDir := o.Apply("0.0.0.0:50051", "/var/lib/auditledger")
	assert.Equal(t, "10.0.0.5:50051", listen)
	assert.Equal(t, "/var/lib/auditledger", dataDir, "an unset TOML field must not override the CLI default")
}

func TestApplyWithZeroValueOverridesIsANoOp(t *testing.T) {
	listen, dataDir := Overrides{}.Apply("0.0.0.0:50051", "/var/lib/auditledger")
	assert.Equal(t, "0.0.0.0:50051", listen)
	assert.Equal(t, "/var/lib/auditledger", dataDir)
}

func TestLoadOverridesMissingFile(t *testing.T) {
	_, err := LoadOverrides(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
