package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/releaser/internal/config"
	"github.com/oshokin/releaser/internal/domain/release"
)

// TestBoolFlag checks the yes/no vocabulary on the command line.
func TestBoolFlag(t *testing.T) {
	t.Parallel()

	var full, db, search, predeploy config.BoolValue

	//nolint:exhaustruct // Flag parsing only.
	cmd := &cobra.Command{Use: "deploy"}
	boolFlag(cmd, &full, "full", "")
	boolFlag(cmd, &db, "db", "")
	boolFlag(cmd, &search, "search", "")
	boolFlag(cmd, &predeploy, "predeploy", "")

	require.NoError(t, cmd.ParseFlags([]string{"--full", "--db=No", "--search=Y", "--predeploy=1"}))
	require.True(t, bool(full))
	require.False(t, bool(db))
	require.True(t, bool(search))
	require.True(t, bool(predeploy))

	require.ErrorContains(t, cmd.ParseFlags([]string{"--db=maybe"}), "maybe")

	var value config.BoolValue
	require.ErrorIs(t, value.Set("maybe"), release.ErrConfigParse)
}

// TestCommandsRegistered checks that every command is reachable from the root.
func TestCommandsRegistered(t *testing.T) {
	t.Parallel()

	for _, name := range []string{
		"init", "tag-suggest", "tag-set", "export", "deploy", "clean-versions", "current", "relink", "diff",
	} {
		found, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		require.Equal(t, name, found.Name())
	}
}
