// Package classify decides whether a conversation is a scam and which
// archetype it belongs to.
package classify

import (
	"context"
	"log/slog"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/observability"
)

// Input is what a strategy sees for one decision.
type Input struct {
	Text string
	// Context holds recent inbound messages, oldest first.
	Context  []string
	Language string
}

// Result is a classification verdict.
type Result struct {
	IsScam     bool
	ScamType   domain.ScamType
	Confidence float64
	Reasoning  string
	Strategy   string
}

// Strategy is one way of classifying. Strategies in a Chain are
// interchangeable; an error hands the decision to the next one.
type Strategy interface {
	Name() string
	Classify(ctx context.Context, in Input) (Result, error)
}

// Chain tries strategies in order and returns the first verdict.
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewChain builds a chain. The last strategy should never fail.
func NewChain(logger *slog.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{strategies: strategies, logger: logger}
}

// Classify never fails. When every strategy errors the message is treated
// as benign.
func (c *Chain) Classify(ctx context.Context, in Input) Result {
	for _, s := range c.strategies {
		res, err := s.Classify(ctx, in)
		if err != nil {
			c.logger.Warn("Classification strategy failed, falling back",
				"strategy", s.Name(),
				"error", err)
			continue
		}
		res.Strategy = s.Name()
		if !res.IsScam {
			res.ScamType = domain.ScamUnknown
		}
		observability.RecordClassification(res.Strategy, res.IsScam)
		return res
	}
	return Result{ScamType: domain.ScamUnknown, Strategy: "none"}
}
