// Package agent assembles the zoneweaverd process: it opens the store,
// replays the boot-time recovery sweep, wires the task engine, collectors,
// reconciler, session managers and HTTP surface together, and runs them as
// one lifecycle group.
//
// Every long-running component exposes Run(ctx) and stops when its context
// ends. The group cancels all of them as soon as any one returns, so a
// crashed listener or a SIGTERM tears the whole process down in order and
// in bounded time.
package agent
