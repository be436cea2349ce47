package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/DanielAmmar/gprofiler/internal/cli/helpers"
	"github.com/DanielAmmar/gprofiler/internal/config"
)

func TestNewConfigCmd(t *testing.T) {
	cmd := NewConfigCmd()
	assert.Equal(t, "config", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"show", "validate"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestShowConfig(t *testing.T) {
	cfg := config.Default()

	var buf bytes.Buffer
	require.NoError(t, showConfig(&buf, cfg, helpers.FormatYAML))
	var decoded config.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, cfg.Profiler.StorageDir, decoded.Profiler.StorageDir)
	assert.Contains(t, buf.String(), "agent_safemode: 127")

	buf.Reset()
	require.NoError(t, showConfig(&buf, cfg, helpers.FormatJSON))
	assert.True(t, json.Valid(buf.Bytes()))
}

func TestValidateConfig(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, validateConfig(&buf, config.Default()))
	assert.Contains(t, buf.String(), "Configuration is valid")
	assert.Contains(t, buf.String(), "enabled(agent_safemode=127")

	cfg := config.Default()
	cfg.Java.VersionChecks = false
	cfg.Profiler.Concurrency = 0
	buf.Reset()
	err := validateConfig(&buf, cfg)
	assert.EqualError(t, err, "configuration has 2 invalid fields")
	assert.Contains(t, buf.String(), "✗ java.version_checks: Java version checks are mandatory in --java-safemode")
	assert.Contains(t, buf.String(), "✗ profiler.concurrency")
}

func TestValidateCmd_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiler:\n  mode: wall\n"), 0o600))

	cmd := NewConfigCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"validate", "--config", path})

	err := cmd.Execute()
	assert.Error(t, err)
	assert.Contains(t, out.String(), "profiler.mode")
}
