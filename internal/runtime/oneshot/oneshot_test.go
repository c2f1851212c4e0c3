package oneshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/runtime"
)

type echoAdapter struct {
	argv []string
	env  map[string]string
}

func (e *echoAdapter) ID() string                                          { return "echo" }
func (e *echoAdapter) InstructionPath() string                             { return "AGENTS.md" }
func (e *echoAdapter) BuildSpawnCommand(runtime.SpawnOptions) string       { return "" }
func (e *echoAdapter) BuildPrintCommand(prompt, model string) []string     { return e.argv }
func (e *echoAdapter) DeployConfig(string, []byte, runtime.HooksDef) error { return nil }
func (e *echoAdapter) DetectReady(string) runtime.Readiness {
	return runtime.Readiness{State: runtime.ReadyStateReady}
}
func (e *echoAdapter) ParseTranscript(string) (*runtime.TranscriptUsage, error) { return nil, nil }
func (e *echoAdapter) BuildEnv(string) map[string]string                        { return e.env }
func (e *echoAdapter) RequiresBeaconVerification() bool                         { return false }

func TestRunnerCapturesOutput(t *testing.T) {
	r := NewRunner(&echoAdapter{argv: []string{"echo", "merged cleanly"}}, time.Minute, logger.Default())

	res, err := r.Run(context.Background(), t.TempDir(), "ignored", "")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "merged cleanly")
	assert.Equal(t, 0, res.ExitCode)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestRunnerNonZeroExit(t *testing.T) {
	r := NewRunner(&echoAdapter{argv: []string{"sh", "-c", "echo broken; exit 3"}}, time.Minute, logger.Default())

	res, err := r.Run(context.Background(), t.TempDir(), "ignored", "")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "broken")
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunnerInheritsParentEnvironment(t *testing.T) {
	t.Setenv("ONESHOT_PARENT_VAR", "from-parent")

	r := NewRunner(&echoAdapter{
		argv: []string{"sh", "-c", "echo parent=$ONESHOT_PARENT_VAR injected=$ONESHOT_INJECTED"},
		env:  map[string]string{"ONESHOT_INJECTED": "from-adapter"},
	}, time.Minute, logger.Default())

	res, err := r.Run(context.Background(), t.TempDir(), "ignored", "")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "parent=from-parent")
	assert.Contains(t, res.Output, "injected=from-adapter")
}

func TestRunnerTimeout(t *testing.T) {
	r := NewRunner(&echoAdapter{argv: []string{"sleep", "10"}}, 100*time.Millisecond, logger.Default())

	_, err := r.Run(context.Background(), t.TempDir(), "ignored", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRunnerEmptyCommand(t *testing.T) {
	r := NewRunner(&echoAdapter{}, 0, logger.Default())
	_, err := r.Run(context.Background(), t.TempDir(), "p", "")
	require.Error(t, err)
}
