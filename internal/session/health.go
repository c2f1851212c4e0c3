package session

import "time"

// Action is what the watchdog should do after a health evaluation.
type Action string

const (
	ActionNone      Action = "none"
	ActionEscalate  Action = "escalate"
	ActionTerminate Action = "terminate"
)

// HealthCheck is the outcome of one health evaluation.
type HealthCheck struct {
	State  State
	Action Action
}

// EvaluateHealth is the pure health rule set. Rules in priority order:
//
//  1. dead pane            -> zombie, terminate
//  2. elapsed >= zombieMs  -> zombie, terminate
//  3. elapsed >= staleMs   -> stalled, escalate
//  4. booting + fresh      -> working (promote on first activity under threshold)
//  5. otherwise            -> keep current state
//
// elapsed is measured against lastActivity. staleMs must be below zombieMs;
// callers validate that at config load.
func EvaluateHealth(sess *AgentSession, paneAlive bool, now time.Time, stale, zombie time.Duration) HealthCheck {
	if !paneAlive {
		return HealthCheck{State: StateZombie, Action: ActionTerminate}
	}

	elapsed := now.Sub(sess.LastActivity)
	switch {
	case elapsed >= zombie:
		return HealthCheck{State: StateZombie, Action: ActionTerminate}
	case elapsed >= stale:
		return HealthCheck{State: StateStalled, Action: ActionEscalate}
	case sess.State == StateBooting:
		return HealthCheck{State: StateWorking, Action: ActionNone}
	default:
		return HealthCheck{State: sess.State, Action: ActionNone}
	}
}
