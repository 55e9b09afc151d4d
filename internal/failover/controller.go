package failover

import (
	"context"
	"log"
	"time"

	"github.com/adjutant/adjutant/internal/actor"
	"github.com/adjutant/adjutant/internal/provider"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Controller runs model completions with bounded retry and model fallback.
// Overloaded responses (429/503/529) are retried on the same model with
// exponential backoff; once a model's attempts are spent the next fallback
// model is tried. Any other error returns immediately.
type Controller struct {
	registry    *provider.Registry
	fallbacks   []provider.ModelRef
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Controller)

func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// WithSleep replaces the backoff sleeper, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

func NewController(registry *provider.Registry, fallbacks []provider.ModelRef, opts ...Option) *Controller {
	c := &Controller{
		registry:    registry,
		fallbacks:   fallbacks,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute completes req against model, falling back through the configured
// chain when a model stays overloaded. The request's Model field is set from
// the ref on each try.
func (c *Controller) Execute(ctx context.Context, model provider.ModelRef, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	models := append([]provider.ModelRef{model}, c.fallbacks...)
	attempted := make([]string, 0, len(models))

	for _, m := range models {
		if containsRef(attempted, m.String()) {
			continue
		}
		attempted = append(attempted, m.String())

		resp, err := c.tryModel(ctx, m, req)
		if err == nil {
			return resp, nil
		}
		if !provider.IsOverloaded(err) {
			return nil, err
		}
		log.Printf("failover: model %s overloaded after %d attempt(s)%s", m, c.maxAttempts, userTag(ctx))
	}

	return nil, &AllExhaustedError{Attempted: attempted}
}

func (c *Controller) tryModel(ctx context.Context, model provider.ModelRef, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	p, err := c.registry.GetForModel(model)
	if err != nil {
		return nil, err
	}

	req.Model = model.Model()
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.baseDelay<<(attempt-1)); err != nil {
				return nil, err
			}
		}

		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !provider.IsOverloaded(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func containsRef(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}

// userTag renders the acting user for log lines when the context carries one.
func userTag(ctx context.Context) string {
	if id := actor.UserID(ctx); id != "" {
		return " user=" + id
	}
	return ""
}
