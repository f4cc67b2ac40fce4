// Package codec converts between Message values and the JSON text frames
// carried on the realtime connection.
//
// Messages keep the key order they were built or received with. Decoding never
// panics or aborts a stream: a frame that is not a JSON object yields a
// *DecodeFailure that carries the original payload.
package codec
