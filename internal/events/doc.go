// Package events carries generation lifecycle notifications from the
// orchestrator to loosely coupled subscribers such as metrics and audit
// logging. Emitters never know which handlers exist.
package events
