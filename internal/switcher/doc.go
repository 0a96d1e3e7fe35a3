// Package switcher wires the day/night triggers, the zen-mode override and
// live rescheduling onto a single event loop.
//
// Every entry point (trigger fire, settings change, command) becomes a task
// on one goroutine, so tasks run to completion one at a time and the switcher
// state needs no locking beyond activation bookkeeping.
package switcher
