// Command agentuse runs *.agentuse files: either a single foreground
// execution, or a long-running service that schedules agents on cron
// expressions and serves them over HTTP, per spec.md §6.
package main

func main() {
	Execute()
}
