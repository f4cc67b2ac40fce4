// Package broadcast implements the multi-consumer event sequence that fans
// decoded frames out to subscribers.
//
// Each subscriber owns an unbounded FIFO queue so a slow consumer never blocks
// the producer or other consumers. The subscriber list is copy-on-write:
// Publish iterates an immutable snapshot while Subscribe and Unsubscribe swap
// in a new slice.
package broadcast
