package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdRegistersAllCommands(t *testing.T) {
	cmd := newRootCmd()

	want := []string{
		"ls", "stat", "cat", "get", "put", "mkdir",
		"cp", "mv", "rename", "rm", "undo",
		"resource", "credentials", "login", "logout",
	}

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range want {
		assert.True(t, names[name], "missing command %q", name)
	}
}

func TestResourceSubcommands(t *testing.T) {
	root := newRootCmd()

	resCmd, _, err := root.Find([]string{"resource", "add"})
	require.NoError(t, err)
	assert.Equal(t, "add", resCmd.Name())

	tuneCmd, _, err := root.Find([]string{"resource", "tune"})
	require.NoError(t, err)
	assert.Equal(t, "tune", tuneCmd.Name())
}

func TestRootCmdSilencesCobraOutput(t *testing.T) {
	cmd := newRootCmd()

	assert.True(t, cmd.SilenceErrors)
	assert.True(t, cmd.SilenceUsage)
}
