// Package retry wraps single storage operations with bounded exponential
// backoff. Transient store failures are retried, everything else is
// classified and returned immediately.
package retry
