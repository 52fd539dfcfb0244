// Package domain contains the generation entities shared by every layer:
// tasks, their slots, and the durable generation records written once a
// task is finalized. It has no knowledge of storage or transport.
package domain
