package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// envelope is the --json output shape. Every command emits exactly one.
type envelope struct {
	Success bool   `json:"success"`
	Command string `json:"command"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// emit prints a command result: a JSON envelope with --json, otherwise the
// human rendering produced by render. A nil render prints nothing in human
// mode (beyond what the command already printed).
func emit(command string, data any, render func()) error {
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(envelope{
			Success: true,
			Command: command,
			Data:    data,
		})
	}
	if render != nil {
		render()
	}
	return nil
}

// info prints a human progress line unless quieted. No-op in JSON mode: the
// envelope is the only stdout output there.
func info(format string, args ...any) {
	if flagQuiet || flagJSON {
		return
	}
	fmt.Printf(format+"\n", args...)
}

func printJSONError(err error) {
	_ = json.NewEncoder(os.Stdout).Encode(envelope{
		Success: false,
		Error:   err.Error(),
	})
}
