package main

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tiaki/internal/registry"
)

func TestServerAddr(t *testing.T) {
	origFlag := serverFlag
	origEnv := os.Getenv("TIAKI_SERVER")
	defer func() {
		serverFlag = origFlag
		os.Setenv("TIAKI_SERVER", origEnv)
	}()

	serverFlag = ""
	os.Unsetenv("TIAKI_SERVER")
	assert.Equal(t, "http://127.0.0.1:8700", serverAddr())

	os.Setenv("TIAKI_SERVER", "http://coordinator:9000")
	assert.Equal(t, "http://coordinator:9000", serverAddr())

	serverFlag = "http://localhost:7000"
	assert.Equal(t, "http://localhost:7000", serverAddr(), "flag wins over env")
}

func TestBearerCredential(t *testing.T) {
	origFlag := tokenFlag
	origEnv := os.Getenv("TIAKI_TOKEN")
	defer func() {
		tokenFlag = origFlag
		os.Setenv("TIAKI_TOKEN", origEnv)
	}()

	tokenFlag = ""
	os.Unsetenv("TIAKI_TOKEN")
	assert.Equal(t, "", bearerCredential())

	os.Setenv("TIAKI_TOKEN", "env-token")
	assert.Equal(t, "env-token", bearerCredential())

	tokenFlag = "flag-token"
	assert.Equal(t, "flag-token", bearerCredential(), "flag wins over env")
}

func TestFilterFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "probe"}
	addFilterFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--type", "memory",
		"--persona", "kai",
		"--status", "healthy",
		"--tag", "primary",
		"--tag", "eu-west",
	}))

	f := filterFromFlags(cmd)
	assert.Equal(t, registry.TypeMemory, f.Type)
	assert.Equal(t, "kai", f.Persona)
	assert.Equal(t, "", f.ProjectHash)
	assert.Equal(t, registry.StatusHealthy, f.Status)
	assert.Equal(t, []string{"primary", "eu-west"}, f.Tags)
}

func TestCommandTree(t *testing.T) {
	expected := map[string][]string{
		"lock":    {"acquire", "release"},
		"memory":  {"update", "current", "history", "version", "conflicts"},
		"service": {"register", "unregister", "list", "get", "heartbeat", "healthy", "failover"},
		"stats":   nil,
		"events":  nil,
	}

	byName := make(map[string]*cobra.Command)
	for _, cmd := range rootCmd.Commands() {
		byName[cmd.Name()] = cmd
	}

	for name, subs := range expected {
		cmd, ok := byName[name]
		require.True(t, ok, "missing command %q", name)
		for _, sub := range subs {
			found := false
			for _, c := range cmd.Commands() {
				if c.Name() == sub {
					found = true
					break
				}
			}
			assert.True(t, found, "missing subcommand %q %q", name, sub)
		}
	}
}
