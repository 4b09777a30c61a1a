package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientConfigAppliesDocumentedDefaults(t *testing.T) {
	cfg, err := LoadClientConfig("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Conbus.IP)
	assert.Equal(t, 10001, cfg.Conbus.Port)
	assert.Equal(t, 5.0, cfg.Conbus.Timeout)
}

func TestLoadClientConfigReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conbus:\n  ip: 10.0.0.5\n  port: 9000\n  timeout: 2.5\n"), 0o644))

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Conbus.IP)
	assert.Equal(t, 9000, cfg.Conbus.Port)
	assert.Equal(t, 2.5, cfg.Conbus.Timeout)
}

func TestLoadClientConfigEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conbus:\n  ip: 10.0.0.5\n  port: 9000\n"), 0o644))

	t.Setenv("CONBUS_IP", "192.168.1.50")
	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", cfg.Conbus.IP)
	assert.Equal(t, 9000, cfg.Conbus.Port)
}

func TestLoadClientConfigMissingFileIsNotAnError(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultClientConfig(), *cfg)
}

func TestLoadModuleListParsesDeviceTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modules.yaml")
	doc := `
- name: hall-dimmer
  serial_number: "0020044966"
  module_type: XP33
  module_type_code: 11
  link_number: 1
  module_number: 1
  sw_version: "1.0"
  hw_version: "A"
  auto_report_status: true
  action_table:
    - "XP20 10 0 > 0 TURNOFF"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	list, err := LoadModuleList(path)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0020044966", list[0].SerialNumber)
	assert.Equal(t, "XP33", list[0].ModuleType)
	assert.Equal(t, []string{"XP20 10 0 > 0 TURNOFF"}, list[0].ActionTable)
}
