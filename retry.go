package healthcoach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/brunobiangulo/healthcoach/llm"
)

// retryPolicy bounds external calls: each attempt runs under its own
// timeout, transient failures back off exponentially with jitter, and
// non-transient failures abort immediately.
type retryPolicy struct {
	attempts int
	base     time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// do runs fn up to attempts times. Per-attempt deadline overruns count
// as transient (the call stalled); caller cancellation never retries.
func (p retryPolicy) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			delay := p.base * (1 << (attempt - 1))
			delay += time.Duration(rand.Int63n(int64(p.base)/2 + 1))
			p.logger.Debug("retrying external call", "op", op, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		stalled := errors.Is(err, context.DeadlineExceeded)
		if !stalled && !llm.IsTransient(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		p.logger.Warn("external call failed", "op", op, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// retryingEmbedder wraps a provider's Embed with the retry policy. It
// satisfies the embedder interfaces of the retrieval and ranking stages.
type retryingEmbedder struct {
	provider llm.Provider
	policy   retryPolicy
}

func (e *retryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.policy.do(ctx, "embed", func(ctx context.Context) error {
		embs, err := e.provider.Embed(ctx, texts)
		if err != nil {
			return err
		}
		out = embs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// retryingGenerator adapts a chat provider into the phrasing interface,
// under the same retry policy.
type retryingGenerator struct {
	provider llm.Provider
	model    string
	policy   retryPolicy
}

func (g *retryingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.policy.do(ctx, "generate", func(ctx context.Context) error {
		resp, err := g.provider.Chat(ctx, llm.ChatRequest{
			Model: g.model,
			Messages: []llm.Message{
				{Role: "system", Content: "You are a concise, supportive health coach."},
				{Role: "user", Content: prompt},
			},
			Temperature: 0.4,
			MaxTokens:   120,
		})
		if err != nil {
			return err
		}
		out = resp.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
