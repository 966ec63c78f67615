// Package barcode decodes 2D and linear symbols from luminance buffers.
//
// A Decoder keeps per-attempt state in its readers and must be Reset after
// every attempt, successful or not. Symbols that are absent or unreadable
// collapse into ErrNotFound so callers only need one check for a miss.
package barcode
