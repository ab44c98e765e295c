package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoOverrides(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs, v))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	require.Equal(t, Defaults().APIBindAddr, cfg.APIBindAddr)
	require.Equal(t, Defaults().Sandbox.IsolatePoolSize, cfg.Sandbox.IsolatePoolSize)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_bind_addr: \":9999\"\n"), 0o600))

	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs, v))

	cfg, err := Load(v, path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.APIBindAddr)
}

func TestLoadEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_bind_addr: \":9999\"\n"), 0o600))

	t.Setenv("RELAY_API_BIND_ADDR", ":7777")

	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs, v))

	cfg, err := Load(v, path)
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.APIBindAddr)
}

func TestIsReservedEnvName(t *testing.T) {
	require.True(t, IsReservedEnvName("RELAY_ANYTHING"))
	require.True(t, IsReservedEnvName("SITE_URL"))
	require.False(t, IsReservedEnvName("MY_API_KEY"))
}
