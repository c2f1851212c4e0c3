package spawn

import "time"

// StaggerDelay returns how long a spawn must wait so that no two agents
// start closer together than window. mostRecentStart is the startedAt of the
// most recent non-completed session; zero means no recent session. Stalled
// and zombie sessions still count as recent: their boot cost was paid within
// the window even if they have since gone quiet.
func StaggerDelay(window time.Duration, mostRecentStart, now time.Time) time.Duration {
	if window <= 0 || mostRecentStart.IsZero() {
		return 0
	}
	elapsed := now.Sub(mostRecentStart)
	if elapsed >= window {
		return 0
	}
	delay := window - elapsed
	if delay > window {
		// A start timestamp in the future (clock skew) never extends the
		// wait beyond one full window.
		return window
	}
	return delay
}
