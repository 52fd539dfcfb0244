// Package gemini implements executor.Generator over Google's Gemini API.
//
// Each call renders a prompt for the task type and its parameters, attaches
// the input photo when one is given, and asks the primary image model for a
// single image. Transient failures are retried with exponential backoff;
// when the primary model still fails the fallback model is tried once with
// the same budget. The returned image bytes are written to the configured
// ImageSaver and the slot receives the public URL.
package gemini
