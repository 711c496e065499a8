package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "create", "fetch", "list", "services", "drafts", "runs", "pdf", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "munivars", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	defaults := map[string]string{
		"id":           "",
		"name":         "",
		"prefecture":   "",
		"url":          "",
		"services":     "",
		"auto-approve": "false",
		"threshold":    "0.8",
		"dry-run":      "false",
		"free-tier":    "false",
		"search-limit": "10",
		"gemini-limit": "50",
	}
	for _, cmd := range []string{"run", "fetch"} {
		c, _, err := rootCmd.Find([]string{cmd})
		require.NoError(t, err)
		for name, def := range defaults {
			flag := c.Flags().Lookup(name)
			require.NotNil(t, flag, "%s should have --%s", cmd, name)
			assert.Equal(t, def, flag.DefValue, "%s --%s default", cmd, name)
		}
	}
}

func TestDraftsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range draftsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "diff", "approve", "reject", "apply", "accept-suggestion", "refetch", "stats"} {
		assert.True(t, names[name], "drafts should have subcommand %q", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}
