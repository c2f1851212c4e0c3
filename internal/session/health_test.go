package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func healthSession(state State, lastActivity time.Time) *AgentSession {
	return &AgentSession{
		AgentName:    "builder-abc1",
		TaskID:       "ov-abc1",
		Capability:   CapBuilder,
		State:        state,
		StartedAt:    lastActivity.Add(-time.Minute),
		LastActivity: lastActivity,
	}
}

func TestEvaluateHealthDeadPane(t *testing.T) {
	now := time.Now()
	// Dead pane wins regardless of recent activity.
	sess := healthSession(StateWorking, now.Add(-time.Second))
	hc := EvaluateHealth(sess, false, now, 30*time.Second, 120*time.Second)
	assert.Equal(t, StateZombie, hc.State)
	assert.Equal(t, ActionTerminate, hc.Action)
}

func TestEvaluateHealthZombieThreshold(t *testing.T) {
	now := time.Now()
	sess := healthSession(StateWorking, now.Add(-3*time.Minute))
	hc := EvaluateHealth(sess, true, now, 30*time.Second, 2*time.Minute)
	assert.Equal(t, StateZombie, hc.State)
	assert.Equal(t, ActionTerminate, hc.Action)
}

func TestEvaluateHealthStalled(t *testing.T) {
	now := time.Now()
	sess := healthSession(StateWorking, now.Add(-time.Minute))
	hc := EvaluateHealth(sess, true, now, 30*time.Second, 2*time.Minute)
	assert.Equal(t, StateStalled, hc.State)
	assert.Equal(t, ActionEscalate, hc.Action)
}

func TestEvaluateHealthPromotesBooting(t *testing.T) {
	now := time.Now()
	sess := healthSession(StateBooting, now.Add(-5*time.Second))
	hc := EvaluateHealth(sess, true, now, 30*time.Second, 120*time.Second)
	assert.Equal(t, StateWorking, hc.State)
	assert.Equal(t, ActionNone, hc.Action)
}

func TestEvaluateHealthKeepsCurrent(t *testing.T) {
	now := time.Now()
	sess := healthSession(StateWorking, now.Add(-5*time.Second))
	hc := EvaluateHealth(sess, true, now, 30*time.Second, 120*time.Second)
	assert.Equal(t, StateWorking, hc.State)
	assert.Equal(t, ActionNone, hc.Action)
}

func TestEvaluateHealthTerminateImpliesZombie(t *testing.T) {
	now := time.Now()
	states := []State{StateBooting, StateWorking, StateStalled}
	ages := []time.Duration{0, 40 * time.Second, 5 * time.Minute}
	for _, st := range states {
		for _, age := range ages {
			for _, alive := range []bool{true, false} {
				hc := EvaluateHealth(healthSession(st, now.Add(-age)), alive, now,
					30*time.Second, 2*time.Minute)
				if hc.Action == ActionTerminate {
					assert.Equal(t, StateZombie, hc.State)
				}
			}
		}
	}
}
