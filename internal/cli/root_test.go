package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "planloop", cmd.Use)
	assert.Contains(t, cmd.Long, "plan file")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "resume", "status", "attach", "version"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	phasesFlag := runCmd.Flags().Lookup("phases")
	require.NotNil(t, phasesFlag)
	assert.Equal(t, "1", phasesFlag.DefValue)

	gatesFlag := runCmd.Flags().Lookup("gates")
	require.NotNil(t, gatesFlag)
	assert.Equal(t, "prompt", gatesFlag.DefValue)

	consoleFlag := runCmd.Flags().Lookup("console")
	require.NotNil(t, consoleFlag)
	assert.Equal(t, "disabled", consoleFlag.DefValue)

	reclaimFlag := runCmd.Flags().Lookup("reclaim-lock")
	require.NotNil(t, reclaimFlag)
	assert.Equal(t, "false", reclaimFlag.DefValue)
}

func TestResumeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	resumeCmd, _, err := cmd.Find([]string{"resume"})
	require.NoError(t, err)

	// resume takes the same knobs as run
	require.NotNil(t, resumeCmd.Flags().Lookup("phases"))
	require.NotNil(t, resumeCmd.Flags().Lookup("permissions"))
	require.NotNil(t, resumeCmd.Flags().Lookup("worktree"))
}

func TestStatusCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	statusCmd, _, err := cmd.Find([]string{"status"})
	require.NoError(t, err)

	eventsFlag := statusCmd.Flags().Lookup("events")
	require.NotNil(t, eventsFlag)
	assert.Equal(t, "0", eventsFlag.DefValue)

	runFlag := statusCmd.Flags().Lookup("run")
	require.NotNil(t, runFlag)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "version"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
