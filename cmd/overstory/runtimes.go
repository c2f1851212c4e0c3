package main

// Adapter registration. Each runtime package registers itself in init().
import (
	_ "github.com/overstory/overstory/internal/runtime/claudecode"
	_ "github.com/overstory/overstory/internal/runtime/codex"
	_ "github.com/overstory/overstory/internal/runtime/opencode"
)
