// Package middleware provides request rate limiting for the audit query
// surface, either in-process for single-node deployments or backed by
// Redis when the limit must hold across instances.
package middleware
