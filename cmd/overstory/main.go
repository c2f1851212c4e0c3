// Command overstory is the multi-agent orchestration CLI: it spawns
// coding-assistant agents into isolated git worktrees, watches their health,
// routes their mail, and lands their branches through the merge queue.
package main

func main() {
	Execute()
}
