// ABOUTME: Codec package documentation
// ABOUTME: Frame transcoders for the audio payload of wire messages
// Package codec implements the frame transcoders that compress and
// decompress the audio payload of Moshi wire messages.
//
// Opus is the production transcoder; PCM is a lossless passthrough for
// uncompressed transports and tests.
package codec
