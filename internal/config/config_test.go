package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "none", cfg.Oracle.Provider)
	assert.NotEmpty(t, cfg.Facts)
}

func TestMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Source.LookbackDays, cfg.Source.LookbackDays)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chartrec.yaml")
	content := `
workspace: /data/run
oracle:
  provider: http
  base_url: http://localhost:8080/v1
  model: test-model
  call_timeout: 30s
source:
  lookback_days: 730
cascade:
  sufficiency_threshold: high
facts:
  - fact_id: histology
    priority: critical
    fields: [morphology_code]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/run", cfg.Workspace)
	assert.Equal(t, "http", cfg.Oracle.Provider)
	assert.Equal(t, 30*time.Second, cfg.Oracle.Timeout())
	assert.Equal(t, 730, cfg.Source.LookbackDays)
	assert.Equal(t, "high", cfg.Cascade.SufficiencyThreshold)
	require.Len(t, cfg.Facts, 1)
	assert.Equal(t, "histology", cfg.Facts[0].FactID)
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "sk-from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Oracle.APIKey)
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Oracle.Provider = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresBaseURLForHTTP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Oracle.Provider = "http"
	cfg.Oracle.BaseURL = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateFacts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Facts = append(cfg.Facts, FactConfig{FactID: cfg.Facts[0].FactID, Priority: "low"})
	assert.Error(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chartrec.yaml")
	orig := DefaultConfig()
	orig.Workspace = "/tmp/x"
	require.NoError(t, orig.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", loaded.Workspace)
	assert.Equal(t, orig.Cascade, loaded.Cascade)
}

func TestCheckpointDirUnderWorkspace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = "/data/run"
	assert.Equal(t, filepath.Join("/data/run", ".chartrec", "checkpoints"), cfg.CheckpointDir())
}
