// Package settings is the persisted key/value configuration store.
//
// Keys are dotted VS Code style names ("workbench.colorTheme"). Values are
// JSON scalars. Two scopes exist: global and workspace; reads resolve the
// workspace value over the global one. Every mutation that changes at least
// one value publishes a single eventbus event listing the affected keys.
//
// Drivers:
//   - "file":   settings.json documents, patched in place (default)
//   - "sqlite": SQLite database file
//   - "memory": process-local, for tests and dry runs
package settings
