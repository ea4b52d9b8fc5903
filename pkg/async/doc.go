// Package async provides a bounded worker pool for fire-and-forget
// background work. Producers submit without blocking; a full queue
// rejects the task instead of applying backpressure.
package async
