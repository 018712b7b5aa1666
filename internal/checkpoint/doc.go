// Package checkpoint saves and restores per-body buffers as plain text, one
// body per line. Vector quantities are written as "%.10f %.10f", scalars as
// "%.10f". Restore reads whitespace-separated fields and requires each
// line to carry exactly as many fields as the quantity has components.
//
// Snapshot files are named prefix%06d by tick; NextIndex finds where an
// interrupted run left off.
package checkpoint
