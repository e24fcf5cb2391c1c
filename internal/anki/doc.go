// Package anki reads and rewrites the SQLite collection inside an extracted
// Anki package. Notes are exposed with their fields split on the 0x1f
// separator; which positions to translate is derived per note model from the
// field names stored in the collection metadata.
package anki
