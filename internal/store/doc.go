// Package store defines the persistence interfaces of the service and the
// errors their implementations return. Implementations live in
// internal/platform/postgres and internal/platform/redis.
package store
