// Package lease provides lease-based mutual exclusion per brook key across
// processes.
//
// A Manager acquires a Lock through a Leaser, the blob-lease primitive. Two
// Leaser backends exist: PebbleLeaser keeps lease records in the local pebble
// store and suits a single host, RedisLeaser uses SET NX PX plus Lua
// compare-and-set scripts and suits several hosts sharing one Redis.
//
// A Lock renews lazily: Renew is a no-op until less than the renewal
// threshold remains on the lease. Losing the lease is reported as
// brook.ErrLockLost and is never retried. Release is best effort; lease
// expiry is the backstop.
package lease
