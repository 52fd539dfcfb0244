// Package api handles incoming HTTP requests, request validation and
// response formatting for sessions, generations, recovery and quota. It
// translates HTTP concerns to orchestrator operations and maps their errors
// to safe client messages.
package api
