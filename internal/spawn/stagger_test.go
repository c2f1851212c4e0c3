package spawn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStaggerDelay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }

	cases := []struct {
		name   string
		window time.Duration
		recent time.Time
		want   time.Duration
	}{
		{"no sessions", ms(5000), time.Time{}, 0},
		{"already elapsed", ms(2000), now.Add(-ms(10000)), 0},
		{"exactly elapsed", ms(2000), now.Add(-ms(2000)), 0},
		{"mid-window", ms(2000), now.Add(-ms(500)), ms(1500)},
		{"just started", ms(3000), now, ms(3000)},
		{"negative window", -ms(1000), now.Add(-ms(100)), 0},
		{"zero window", 0, now.Add(-ms(100)), 0},
		{"most recent wins", ms(2000), now.Add(-ms(200)), ms(1800)},
		{"future start capped", ms(2000), now.Add(ms(500)), ms(2000)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StaggerDelay(tc.window, tc.recent, now))
		})
	}
}

func TestAgentName(t *testing.T) {
	assert.Equal(t, "builder-abc1", AgentName("builder", "ov-abc1"))
	assert.Equal(t, "scout-9", AgentName("scout", "task-9"))
	assert.Equal(t, "reviewer-plain", AgentName("reviewer", "plain"))
}
