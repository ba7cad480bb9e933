package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcviewer/viewerkit/tasks"
)

func TestEveryVisibleTaskIsDescribed(t *testing.T) {
	for _, cmd := range rootCmd.Commands() {
		if cmd.Hidden || cmd.Name() == "help" || cmd.Name() == "completion" {
			continue
		}
		assert.NotEmpty(t, descriptions[cmd.Name()], cmd.Name())
	}
	for name := range descriptions {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRunTestTask(t *testing.T) {
	rootCmd.SetArgs([]string{"--root", t.TempDir(), tasks.Test})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	rootCmd.SetArgs([]string{"--manifest", "missing.yaml", tasks.Test})
	assert.Error(t, rootCmd.ExecuteContext(context.Background()))
}
