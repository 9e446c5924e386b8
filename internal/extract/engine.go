// Package extract turns free-text messages into structured intelligence
// fragments using deterministic patterns and, when available, the
// generation backend.
package extract

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/honeypot/internal/domain"
)

// Result is the merged output of one extraction pass.
type Result struct {
	Fragments []domain.Fragment
	// ModelDegraded is true when the model pass failed or was abandoned.
	ModelDegraded bool
}

// Engine runs the pattern and model extractors concurrently and merges
// their output.
type Engine struct {
	pattern PatternExtractor
	model   *ModelExtractor
	logger  *slog.Logger
}

// NewEngine creates an Engine. model may be nil for pattern-only operation.
func NewEngine(model *ModelExtractor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{model: model, logger: logger}
}

// Extract never fails: a model failure degrades to pattern-only output.
// history holds prior inbound messages used as context by the model pass.
func (e *Engine) Extract(ctx context.Context, text string, history []string) Result {
	var patternFrags, modelFrags []domain.Fragment
	degraded := e.model == nil

	// Only the model pass can fail; the pattern pass always completes.
	var g errgroup.Group
	g.Go(func() error {
		patternFrags = e.pattern.Extract(text)
		return nil
	})
	if e.model != nil {
		g.Go(func() error {
			frags, err := e.model.Extract(ctx, text, history)
			if err != nil {
				return err
			}
			modelFrags = frags
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("Model extraction failed, using pattern output only", "error", err)
		degraded = true
	}

	return Result{
		Fragments:     Merge(patternFrags, modelFrags),
		ModelDegraded: degraded,
	}
}

// ExtractPatterns runs only the deterministic pass.
func (e *Engine) ExtractPatterns(text string) []domain.Fragment {
	return e.pattern.Extract(text)
}

// Merge deduplicates fragments by (category, value). Pattern fragments win
// over model fragments for the same value.
func Merge(pattern, model []domain.Fragment) []domain.Fragment {
	out := make([]domain.Fragment, 0, len(pattern)+len(model))
	index := make(map[string]int, len(pattern)+len(model))
	for _, group := range [][]domain.Fragment{pattern, model} {
		for _, f := range group {
			key := string(f.Category) + "|" + f.Value
			if i, ok := index[key]; ok {
				if f.Source == domain.SourcePattern && out[i].Source != domain.SourcePattern {
					out[i] = f
				}
				continue
			}
			index[key] = len(out)
			out = append(out, f)
		}
	}
	return out
}
