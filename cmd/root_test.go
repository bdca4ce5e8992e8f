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

	for _, name := range []string{"migrate", "ingest", "serve", "score", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "finscreen", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_Flags(t *testing.T) {
	flag := ingestCmd.Flags().Lookup("file")
	require.NotNil(t, flag, "ingest command should have --file flag")

	out := ingestCmd.Flags().Lookup("output")
	require.NotNil(t, out)
	assert.Equal(t, "json", out.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_Flags(t *testing.T) {
	flag := runsCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
	assert.NotNil(t, runsCmd.Flags().Lookup("symbol"))
	assert.NotNil(t, runsCmd.Flags().Lookup("json"))
}

func TestScoreCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range scoreCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"fundamental", "technical", "raw"} {
		assert.True(t, names[name], "expected score subcommand %q not found", name)
	}
}
