// Package orchestrator runs generation tasks end to end.
//
// A submission creates the task in the registry, records the session's
// recovery hint, reserves quota and queues the run on the job runner. The run
// drives the configured executor strategy, reveals the task on its first
// completed slot, and finalizes it once every slot is terminal: quota is
// confirmed, partially refunded or refunded from the number of delivered
// images, and the result set is persisted so a reconnecting client can
// recover it after the process restarted.
//
// Runs are detached from the submitting request. A client that disconnects
// or resets its session never stops slot resolution, so quota settlement and
// persistence stay correct when nobody is watching.
package orchestrator
