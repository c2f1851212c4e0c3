package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionStateAllowedEdges(t *testing.T) {
	cases := []struct {
		from, proposed, want State
	}{
		{StateBooting, StateWorking, StateWorking},
		{StateBooting, StateStalled, StateStalled},
		{StateBooting, StateZombie, StateZombie},
		{StateBooting, StateCompleted, StateCompleted},
		{StateWorking, StateStalled, StateStalled},
		{StateWorking, StateCompleted, StateCompleted},
		{StateStalled, StateWorking, StateWorking},
		{StateStalled, StateZombie, StateZombie},
		{StateZombie, StateCompleted, StateCompleted},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TransitionState(tc.from, tc.proposed),
			"%s -> %s", tc.from, tc.proposed)
	}
}

func TestTransitionStateRejectsRegressions(t *testing.T) {
	// Stalled never returns to booting; zombie only moves to completed;
	// completed is terminal.
	assert.Equal(t, StateStalled, TransitionState(StateStalled, StateBooting))
	assert.Equal(t, StateZombie, TransitionState(StateZombie, StateWorking))
	assert.Equal(t, StateZombie, TransitionState(StateZombie, StateStalled))
	assert.Equal(t, StateCompleted, TransitionState(StateCompleted, StateWorking))
	assert.Equal(t, StateCompleted, TransitionState(StateCompleted, StateZombie))
	assert.Equal(t, StateWorking, TransitionState(StateWorking, StateBooting))
}

func TestTransitionMonotonicity(t *testing.T) {
	all := []State{StateBooting, StateWorking, StateStalled, StateZombie, StateCompleted}
	for _, from := range all {
		for _, proposed := range all {
			to := TransitionState(from, proposed)
			assert.GreaterOrEqual(t, Rank(to), Rank(from),
				"transition %s -> %s regressed rank", from, to)
		}
	}
}

func TestBranchName(t *testing.T) {
	b := BranchName("builder-abc1", "ov-abc1")
	assert.Equal(t, "overstory/builder-abc1/ov-abc1", b)
	assert.True(t, ValidBranchName(b, "builder-abc1"))
	assert.False(t, ValidBranchName(b, "scout-abc1"))
	assert.False(t, ValidBranchName("overstory/builder-abc1/", "builder-abc1"))
	assert.False(t, ValidBranchName("feature/builder-abc1/ov-abc1", "builder-abc1"))
}

func TestCapabilityClasses(t *testing.T) {
	assert.True(t, CapBuilder.CanWrite())
	assert.True(t, CapMerger.CanWrite())
	assert.False(t, CapScout.CanWrite())
	assert.False(t, CapReviewer.CanWrite())
	assert.False(t, CapMonitor.CanWrite())

	assert.True(t, CapLead.CanSpawn())
	assert.True(t, CapCoordinator.CanSpawn())
	assert.False(t, CapBuilder.CanSpawn())

	_, err := ParseCapability("builder")
	assert.NoError(t, err)
	_, err = ParseCapability("wizard")
	assert.Error(t, err)
}
