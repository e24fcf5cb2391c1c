package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"codeberg.org/snonux/decktranslate/internal"
	"codeberg.org/snonux/decktranslate/internal/anki"
	"codeberg.org/snonux/decktranslate/internal/archive"
	"codeberg.org/snonux/decktranslate/internal/cli"
	"codeberg.org/snonux/decktranslate/internal/logger"
)

// ErrNoDecks is returned when there is nothing to process
var ErrNoDecks = errors.New("no decks to process")

// Translator translates a single text. The only error it returns is the
// context's.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Publisher uploads a packed deck and returns where it was stored
type Publisher interface {
	Publish(ctx context.Context, path string) (string, error)
}

// Processor runs the deck pipeline: extract, load, translate, rewrite,
// pack and clean
type Processor struct {
	flags      *cli.Flags
	translator Translator
	publisher  Publisher
	sem        *semaphore.Weighted
	out        io.Writer
	outMu      sync.Mutex
}

// NewProcessor creates a new deck processor. Translation calls from all
// decks share one limit of flags.TranslateConcurrency.
func NewProcessor(flags *cli.Flags, translator Translator) *Processor {
	limit := int64(flags.TranslateConcurrency)
	if limit < 1 {
		limit = 1
	}
	return &Processor{
		flags:      flags,
		translator: translator,
		sem:        semaphore.NewWeighted(limit),
		out:        os.Stdout,
	}
}

// SetPublisher uploads every packed deck with pub
func (p *Processor) SetPublisher(pub Publisher) {
	p.publisher = pub
}

// SetOutput redirects progress output
func (p *Processor) SetOutput(w io.Writer) {
	p.out = w
}

// ListDecks returns the .apkg files in dir, sorted by name. Subdirectories
// are not searched.
func ListDecks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck directory: %w", err)
	}

	var decks []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".apkg") {
			continue
		}
		decks = append(decks, filepath.Join(dir, e.Name()))
	}
	sort.Strings(decks)
	return decks, nil
}

// ProcessDecks runs every deck through the pipeline concurrently. A deck
// failure is recorded in its result and never stops the other decks; the
// returned error is only set when there is nothing to do or the output
// directory cannot be created.
func (p *Processor) ProcessDecks(ctx context.Context, paths []string) (*Summary, error) {
	if len(paths) == 0 {
		return nil, ErrNoDecks
	}

	// Create output directory (including parent directories)
	if err := os.MkdirAll(p.flags.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	summary := &Summary{
		Decks:   make([]DeckResult, len(paths)),
		Started: time.Now(),
	}

	seen := make(map[string]string, len(paths))
	g := new(errgroup.Group)
	g.SetLimit(max(p.flags.DeckConcurrency, 1))

	for i, path := range paths {
		output := filepath.Join(p.flags.OutputDir, filepath.Base(path))
		if first, dup := seen[output]; dup {
			summary.Decks[i] = DeckResult{
				Path:   path,
				Output: output,
				Stage:  StagePending,
				Err:    fmt.Errorf("output %s is already written by %s", output, first),
			}
			continue
		}
		seen[output] = path

		g.Go(func() error {
			summary.Decks[i] = p.processDeck(ctx, path, output)
			return nil
		})
	}
	g.Wait()

	summary.Duration = time.Since(summary.Started)
	return summary, nil
}

func (p *Processor) processDeck(ctx context.Context, path, output string) (res DeckResult) {
	l := logger.WithComponent("processor").With().Str("deck", filepath.Base(path)).Logger()
	started := time.Now()
	res = DeckResult{Path: path, Output: output, Stage: StagePending}

	defer func() {
		res.Duration = time.Since(started)
		p.report(res)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	work, err := archive.WorkDir(p.flags.WorkDir, internal.SanitizeFilename(internal.DeckName(path)))
	if err != nil {
		res.Err = err
		return res
	}

	// Clean runs after every outcome
	defer func() {
		if err := archive.Clean(work); err != nil {
			l.Warn().Err(err).Str("work_dir", work).Msg("Failed to clean work directory")
			res.Warnings = append(res.Warnings, err.Error())
			return
		}
		if res.Err == nil {
			res.Stage = StageCleaned
		}
	}()

	if err := p.runStages(ctx, l, work, &res); err != nil {
		res.Err = err
		l.Error().Err(err).Str("stage", res.Stage.String()).Msg("Deck failed")
		return res
	}

	if p.publisher != nil {
		location, err := p.publisher.Publish(ctx, res.Output)
		if err != nil {
			l.Warn().Err(err).Msg("Failed to publish deck")
			res.Warnings = append(res.Warnings, fmt.Sprintf("publish: %v", err))
		} else {
			res.Published = location
		}
	}

	l.Info().
		Int("notes", res.Notes).
		Int("fields", res.Fields).
		Str("output", res.Output).
		Msg("Deck translated")
	return res
}

// runStages advances res.Stage as the deck moves through the pipeline
func (p *Processor) runStages(ctx context.Context, l zerolog.Logger, work string, res *DeckResult) error {
	manifest, err := archive.Extract(res.Path, work)
	if err != nil {
		return err
	}
	res.Stage = StageExtracted

	coll, err := anki.Open(ctx, work)
	if err != nil {
		return err
	}
	defer coll.Close()

	targets := coll.FieldTargets(p.flags.Fields)
	notes, err := coll.Notes(ctx)
	if err != nil {
		return err
	}
	res.Stage = StageLoaded
	l.Debug().
		Int("notes", len(notes)).
		Int("models", len(coll.Models())).
		Int("target_models", len(targets)).
		Msg("Collection loaded")

	if len(targets) == 0 {
		l.Info().Strs("fields", p.flags.Fields).Msg("No note type has the fields to translate, copying deck unchanged")
	}

	res.Stage = StageTranslating
	changed, fields, err := p.translateNotes(ctx, coll, notes, targets)
	if err != nil {
		return err
	}
	res.Notes = len(changed)
	res.Fields = fields

	if err := coll.UpdateNotes(ctx, changed); err != nil {
		return err
	}
	if err := coll.Close(); err != nil {
		return fmt.Errorf("failed to close collection: %w", err)
	}
	res.Stage = StageRewritten

	if err := archive.Pack(manifest, work, res.Output); err != nil {
		return err
	}
	res.Stage = StagePacked
	return nil
}

// translateNotes translates the target fields of every note and returns the
// notes that changed along with the number of changed fields. Field counts
// are checked before the first translation call.
func (p *Processor) translateNotes(ctx context.Context, coll *anki.Collection, notes []anki.Note, targets map[int64][]int) ([]anki.Note, int, error) {
	var pending []int
	for i, n := range notes {
		if _, ok := targets[n.ModelID]; !ok {
			continue
		}
		if err := coll.CheckFields(n); err != nil {
			return nil, 0, err
		}
		pending = append(pending, i)
	}

	changedFields := make([]int, len(notes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.flags.TranslateConcurrency, 1))

	for _, i := range pending {
		g.Go(func() error {
			n, err := p.translateNote(gctx, &notes[i], targets[notes[i].ModelID])
			if err != nil {
				return err
			}
			changedFields[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var (
		changed []anki.Note
		total   int
	)
	for i, n := range changedFields {
		if n > 0 {
			changed = append(changed, notes[i])
			total += n
		}
	}
	return changed, total, nil
}

// translateNote replaces the fields at positions in ascending order and
// returns how many of them changed
func (p *Processor) translateNote(ctx context.Context, note *anki.Note, positions []int) (int, error) {
	changed := 0
	for _, pos := range positions {
		original := note.Fields[pos]
		translated, err := p.translate(ctx, original)
		if err != nil {
			return 0, err
		}
		if translated != original {
			note.Fields[pos] = translated
			changed++
		}
	}
	return changed, nil
}

func (p *Processor) translate(ctx context.Context, text string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return p.translator.Translate(ctx, text)
}

func (p *Processor) report(res DeckResult) {
	p.outMu.Lock()
	defer p.outMu.Unlock()

	name := filepath.Base(res.Path)
	if res.Err != nil {
		fmt.Fprintf(p.out, "  ✗ %s failed (stage %s): %v\n", name, res.Stage, res.Err)
		return
	}
	fmt.Fprintf(p.out, "  ✓ %s: %d notes, %d fields translated -> %s\n", name, res.Notes, res.Fields, res.Output)
	for _, w := range res.Warnings {
		fmt.Fprintf(p.out, "    Warning: %s\n", w)
	}
}
