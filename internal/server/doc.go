// Package server implements the HTTP monitoring endpoints for a running
// capture session: health, statistics, sanitized configuration, the
// session index, and Prometheus metrics.
package server
