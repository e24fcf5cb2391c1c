// Package processor contains the deck pipeline. Each deck is extracted into
// its own work directory, its collection is loaded, the configured fields
// are translated, changed notes are written back in one transaction and the
// archive is repacked. Decks run concurrently and fail independently; all of
// them share one limit on in-flight translation calls.
package processor
