// Package state holds the process-wide application state shared by the
// orchestrator and the command surfaces, plus the filesystem-backed stores
// for saved queries and run history.
package state
