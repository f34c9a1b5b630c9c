package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxlate/voxlate/internal/metrics"
)

// Outcome classifies one provider attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// Attempt records one provider call for fallback decisions and logging.
type Attempt struct {
	Provider string
	Outcome  Outcome
	Duration time.Duration
	Err      error
}

// Step is one provider in a chain with its own timeout. Timeouts are tuned
// tight and asymmetric (primary <= fallback): the chain's worst case is the
// sum of attempted timeouts, so each must stay just above the provider's
// realistic success latency.
type Step[I, O any] struct {
	Name    string
	Timeout time.Duration
	Call    func(ctx context.Context, in I) (O, error)
}

// Chain tries its steps in priority order until one succeeds. Providers are
// attempted sequentially, never in parallel, to keep timeout accounting
// predictable.
type Chain[I, O any] struct {
	operation string
	steps     []Step[I, O]
}

// NewChain creates a chain for the named operation (used in logs and metrics).
func NewChain[I, O any](operation string, steps ...Step[I, O]) *Chain[I, O] {
	return &Chain[I, O]{operation: operation, steps: steps}
}

// Execute runs the chain. Individual failures are absorbed; only full
// exhaustion surfaces as a *ChainError. A step that exceeds its timeout is
// abandoned and its late result discarded.
func (c *Chain[I, O]) Execute(ctx context.Context, in I) (O, []Attempt, error) {
	var zero O
	attempts := make([]Attempt, 0, len(c.steps))

	for _, step := range c.steps {
		if err := ctx.Err(); err != nil {
			return zero, attempts, err
		}

		out, att := c.attempt(ctx, step, in)
		attempts = append(attempts, att)

		metrics.ProviderAttemptsTotal.WithLabelValues(step.Name, c.operation, string(att.Outcome)).Inc()
		metrics.ProviderAttemptDuration.WithLabelValues(step.Name, c.operation).Observe(att.Duration.Seconds())

		if att.Outcome == OutcomeSuccess {
			return out, attempts, nil
		}

		slog.Warn("provider attempt failed, falling through",
			"operation", c.operation,
			"provider", step.Name,
			"outcome", att.Outcome,
			"duration_ms", att.Duration.Milliseconds(),
			"error", att.Err,
		)

		if IsFatal(att.Err) {
			return zero, attempts, att.Err
		}
	}

	return zero, attempts, &ChainError{Operation: c.operation, Attempts: attempts}
}

type stepResult[O any] struct {
	out O
	err error
}

func (c *Chain[I, O]) attempt(ctx context.Context, step Step[I, O], in I) (O, Attempt) {
	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	start := time.Now()
	resCh := make(chan stepResult[O], 1)

	go func() {
		out, err := step.Call(stepCtx, in)
		resCh <- stepResult[O]{out: out, err: err}
	}()

	var zero O
	select {
	case res := <-resCh:
		att := Attempt{Provider: step.Name, Duration: time.Since(start)}
		if res.err != nil {
			att.Err = res.err
			att.Outcome = OutcomeError
			if stepCtx.Err() == context.DeadlineExceeded {
				att.Outcome = OutcomeTimeout
			}
			return zero, att
		}
		att.Outcome = OutcomeSuccess
		return res.out, att
	case <-stepCtx.Done():
		// The in-flight call is allowed to finish but its result is dropped.
		return zero, Attempt{
			Provider: step.Name,
			Outcome:  OutcomeTimeout,
			Duration: time.Since(start),
			Err:      stepCtx.Err(),
		}
	}
}

// TranslateStep adapts a Translator into a chain step.
func TranslateStep(t Translator, timeout time.Duration) Step[TranslateInput, Translation] {
	return Step[TranslateInput, Translation]{Name: t.Name(), Timeout: timeout, Call: t.Translate}
}

// SynthesizeStep adapts a Synthesizer into a chain step.
func SynthesizeStep(s Synthesizer, timeout time.Duration) Step[SynthesizeInput, Audio] {
	return Step[SynthesizeInput, Audio]{Name: s.Name(), Timeout: timeout, Call: s.Synthesize}
}

// RecognizeStep adapts a Recognizer into a chain step.
func RecognizeStep(r Recognizer, timeout time.Duration) Step[RecognizeInput, Transcript] {
	return Step[RecognizeInput, Transcript]{Name: r.Name(), Timeout: timeout, Call: r.Recognize}
}
