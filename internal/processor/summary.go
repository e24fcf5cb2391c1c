package processor

import (
	"fmt"
	"io"
	"path/filepath"
	"time"
)

// Stage is a step of the deck pipeline
type Stage int

const (
	StagePending Stage = iota
	StageExtracted
	StageLoaded
	StageTranslating
	StageRewritten
	StagePacked
	StageCleaned
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageExtracted:
		return "extracted"
	case StageLoaded:
		return "loaded"
	case StageTranslating:
		return "translating"
	case StageRewritten:
		return "rewritten"
	case StagePacked:
		return "packed"
	case StageCleaned:
		return "cleaned"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// DeckResult is the outcome of one deck. For a failed deck Stage is the
// last stage it reached before Err occurred.
type DeckResult struct {
	Path      string
	Output    string
	Stage     Stage
	Err       error
	Notes     int // notes rewritten
	Fields    int // fields whose text changed
	Published string
	Warnings  []string
	Duration  time.Duration
}

// OK reports whether the deck was written
func (r DeckResult) OK() bool {
	return r.Err == nil
}

// Summary collects the results of a run in input order
type Summary struct {
	Decks    []DeckResult
	Started  time.Time
	Duration time.Duration
}

// Succeeded returns the number of decks written
func (s *Summary) Succeeded() int {
	n := 0
	for _, d := range s.Decks {
		if d.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of failed decks
func (s *Summary) Failed() int {
	return len(s.Decks) - s.Succeeded()
}

// AllFailed reports whether not a single deck was written
func (s *Summary) AllFailed() bool {
	return len(s.Decks) > 0 && s.Succeeded() == 0
}

// Print writes the end-of-run summary
func (s *Summary) Print(w io.Writer) {
	notes, fields := 0, 0
	for _, d := range s.Decks {
		notes += d.Notes
		fields += d.Fields
	}

	fmt.Fprintf(w, "\n=== Deck Translation Summary ===\n")
	fmt.Fprintf(w, "Total decks: %d\n", len(s.Decks))
	fmt.Fprintf(w, "Translated: %d\n", s.Succeeded())
	fmt.Fprintf(w, "Notes rewritten: %d (%d fields)\n", notes, fields)
	if failed := s.Failed(); failed > 0 {
		fmt.Fprintf(w, "Errors: %d\n", failed)
		for _, d := range s.Decks {
			if !d.OK() {
				fmt.Fprintf(w, "  %s (%s): %v\n", filepath.Base(d.Path), d.Stage, d.Err)
			}
		}
	}
	fmt.Fprintf(w, "Duration: %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "================================\n")
}
