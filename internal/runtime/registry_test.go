package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct{ id string }

func (f *fakeAdapter) ID() string                                  { return f.id }
func (f *fakeAdapter) InstructionPath() string                     { return "AGENT.md" }
func (f *fakeAdapter) BuildSpawnCommand(SpawnOptions) string       { return f.id }
func (f *fakeAdapter) BuildPrintCommand(p, m string) []string      { return []string{f.id, p} }
func (f *fakeAdapter) DeployConfig(string, []byte, HooksDef) error { return nil }
func (f *fakeAdapter) DetectReady(string) Readiness                { return Readiness{State: ReadyStateReady} }
func (f *fakeAdapter) ParseTranscript(string) (*TranscriptUsage, error) {
	return nil, nil
}
func (f *fakeAdapter) BuildEnv(string) map[string]string { return nil }
func (f *fakeAdapter) RequiresBeaconVerification() bool  { return false }

func TestRegistryLookup(t *testing.T) {
	Register("fake-a", func() Adapter { return &fakeAdapter{id: "fake-a"} })

	a, err := Lookup("fake-a")
	require.NoError(t, err)
	assert.Equal(t, "fake-a", a.ID())

	_, err = Lookup("no-such-runtime")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown runtime")
	assert.Contains(t, Registered(), "fake-a")
}

func TestRegistryDuplicatePanics(t *testing.T) {
	Register("fake-dup", func() Adapter { return &fakeAdapter{id: "fake-dup"} })
	assert.Panics(t, func() {
		Register("fake-dup", func() Adapter { return &fakeAdapter{id: "fake-dup"} })
	})
}
