package agent

import (
	"context"
	"errors"
	"fmt"

	"autoposter/internal/orchestrator"
	logx "autoposter/pkg/logx"
)

// Strategy is one named way of driving the composer.
type Strategy struct {
	Name  string
	Agent orchestrator.Agent
}

// Chain is an orchestrator.Agent that tries each strategy in order for every
// step and stops at the first success.
type Chain struct {
	strategies []Strategy
	log        logx.Logger
}

func NewChain(log logx.Logger, strategies ...Strategy) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{strategies: strategies, log: log}
}

// ChainFor binds the client to each strategy name, in order. With no names
// the sidecar's default strategy is used.
func ChainFor(c *Client, names []string, log logx.Logger) *Chain {
	if len(names) == 0 {
		names = []string{""}
	}
	strategies := make([]Strategy, 0, len(names))
	for _, n := range names {
		strategies = append(strategies, Strategy{Name: n, Agent: c.Strategy(n)})
	}
	return NewChain(log, strategies...)
}

func (ch *Chain) try(ctx context.Context, step string, fn func(orchestrator.Agent) error) error {
	if len(ch.strategies) == 0 {
		return fmt.Errorf("%s: no automation strategy configured", step)
	}
	var errs []error
	for _, s := range ch.strategies {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(s.Agent)
		if err == nil {
			return nil
		}
		ch.log.Debug("strategy failed", logx.String("step", step), logx.String("strategy", s.Name), logx.Err(err))
		errs = append(errs, fmt.Errorf("%s: %w", displayName(s.Name), err))
	}
	return fmt.Errorf("%s: all strategies failed: %w", step, errors.Join(errs...))
}

func displayName(n string) string {
	if n == "" {
		return "default"
	}
	return n
}

func (ch *Chain) OpenComposer(ctx context.Context) error {
	return ch.try(ctx, "open composer", func(a orchestrator.Agent) error { return a.OpenComposer(ctx) })
}

func (ch *Chain) UploadMedia(ctx context.Context, paths []string) error {
	return ch.try(ctx, "upload media", func(a orchestrator.Agent) error { return a.UploadMedia(ctx, paths) })
}

func (ch *Chain) Advance(ctx context.Context) error {
	return ch.try(ctx, "advance", func(a orchestrator.Agent) error { return a.Advance(ctx) })
}

func (ch *Chain) SetCaption(ctx context.Context, text string) error {
	return ch.try(ctx, "set caption", func(a orchestrator.Agent) error { return a.SetCaption(ctx, text) })
}

func (ch *Chain) SubmitPost(ctx context.Context) error {
	return ch.try(ctx, "submit post", func(a orchestrator.Agent) error { return a.SubmitPost(ctx) })
}
