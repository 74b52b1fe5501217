package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	require.NotNil(t, root.PersistentFlags().Lookup("config"))

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"serve", "post"}, names)

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NotNil(t, serve.Flags().Lookup("no-cron"))
}

func TestPostCmd_ConfigError(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("PARAM_PREFIX", "")
	root := newRootCmd()
	root.SetArgs([]string{"post", "--config", "/nonexistent/nwanne.yaml"})
	err := root.Execute()
	require.ErrorContains(t, err, "config: read")
}
