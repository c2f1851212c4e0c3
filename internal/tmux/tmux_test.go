package tmux

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/overstory/overstory/internal/common/logger"
)

func testLogger() *logger.Logger { return logger.Default() }

// No test shells out to a live tmux server; the binary-facing paths are
// covered by the spawner's rollback handling.

func TestSessionName(t *testing.T) {
	assert.Equal(t, "overstory-builder-abc1", SessionName("builder-abc1"))
}

func TestSessionErrorMessage(t *testing.T) {
	err := &SessionError{Session: "overstory-x", Op: "create", Output: "duplicate session\n"}
	assert.Contains(t, err.Error(), "tmux create failed")
	assert.Contains(t, err.Error(), "duplicate session")
	assert.Equal(t, "SESSION_ERROR", err.Code())
}

func TestSortedEnvDeterministic(t *testing.T) {
	env := map[string]string{"B": "2", "A": "1", "C": "3"}
	assert.Equal(t, []string{"A=1", "B=2", "C=3"}, sortedEnv(env))
	assert.Nil(t, sortedEnv(nil))
}

func TestSessionLockReused(t *testing.T) {
	m := NewManager(testLogger())
	l1 := m.sessionLock("overstory-a")
	l2 := m.sessionLock("overstory-a")
	l3 := m.sessionLock("overstory-b")
	assert.Same(t, l1, l2)
	assert.NotSame(t, l1, l3)
}
