// Package batching estimates the stored size of events and splits appends
// into batches that fit one transactional write.
package batching
