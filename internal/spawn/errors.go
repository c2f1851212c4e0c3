package spawn

import "fmt"

// AgentError wraps any failure in the spawn pipeline with the agent and the
// pipeline step that failed.
type AgentError struct {
	AgentName string
	Step      string
	Err       error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("spawn %s failed for agent %s: %v", e.Step, e.AgentName, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *AgentError) Code() string { return "AGENT_ERROR" }
