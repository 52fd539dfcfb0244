// Package jobs runs background work on a fixed pool of workers fed by a
// bounded in-memory queue. Generation jobs are submitted here so they keep
// running after the HTTP request that started them returns.
package jobs
