package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subcommandNames(c *cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, sub := range c.Commands() {
		names[sub.Name()] = true
	}
	return names
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(rootCmd)
	for _, name := range []string{"enrich", "batch", "serve", "visit", "lead", "dlq", "migrate", "token"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "visitor-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestEnrichCommand_Flags(t *testing.T) {
	require.NotNil(t, enrichCmd.Flags().Lookup("visit-id"))
	require.NotNil(t, enrichCmd.Flags().Lookup("role"))
}

func TestBatchCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "visit-ids", "role", "concurrency"} {
		assert.NotNil(t, batchCmd.Flags().Lookup(name), "batch should have --%s", name)
	}
	assert.Equal(t, "0", batchCmd.Flags().Lookup("concurrency").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestSubcommandTrees(t *testing.T) {
	assert.True(t, subcommandNames(visitCmd)["add"])
	lead := subcommandNames(leadCmd)
	assert.True(t, lead["get"])
	assert.True(t, lead["list"])
	dlq := subcommandNames(dlqCmd)
	assert.True(t, dlq["list"])
	assert.True(t, dlq["retry"])
}

func TestRootCommand_LogFlags(t *testing.T) {
	for _, name := range []string{"log-level", "log-format"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "root should have --%s", name)
	}
}
