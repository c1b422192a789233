package pacing

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/models"
)

// Pacer spaces browser actions: an hourly budget for actions visible to other
// people plus a randomized pre-delay per job kind.
type Pacer struct {
	preDelays map[string]Range
	budgeted  map[string]bool
	limiter   *rate.Limiter
	rng       *lockedRand
	sleeper   Sleeper
	logger    arbor.ILogger
}

// PacerOption configures a Pacer
type PacerOption func(*Pacer)

// WithPreDelay overrides the pre-delay of a kind
func WithPreDelay(kind string, r Range) PacerOption {
	return func(p *Pacer) {
		p.preDelays[kind] = r
	}
}

// WithActionsPerHour sets the hourly budget; 0 disables it
func WithActionsPerHour(n int) PacerOption {
	return func(p *Pacer) {
		if n <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(n)), n)
	}
}

// WithPacerRand injects the random source
func WithPacerRand(rng *rand.Rand) PacerOption {
	return func(p *Pacer) {
		p.rng = newLockedRand(rng)
	}
}

// WithPacerSleeper injects the sleeper
func WithPacerSleeper(s Sleeper) PacerOption {
	return func(p *Pacer) {
		p.sleeper = s
	}
}

// NewPacer creates a pacer with the default pre-delays and no hourly budget
func NewPacer(logger arbor.ILogger, opts ...PacerOption) *Pacer {
	p := &Pacer{
		preDelays: map[string]Range{
			models.KindConnect: Between(30*time.Second, 120*time.Second),
			models.KindReply:   Between(10*time.Second, 60*time.Second),
		},
		budgeted: map[string]bool{
			models.KindConnect:     true,
			models.KindReply:       true,
			models.KindStatusCheck: true,
		},
		rng:     newLockedRand(nil),
		sleeper: RealSleeper{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewPacerFromConfig maps the [pacing] section
func NewPacerFromConfig(config common.PacingConfig, logger arbor.ILogger, opts ...PacerOption) *Pacer {
	base := []PacerOption{
		WithPreDelay(models.KindConnect, Between(
			common.ParseDuration(config.ConnectDelayMin, 30*time.Second),
			common.ParseDuration(config.ConnectDelayMax, 120*time.Second))),
		WithPreDelay(models.KindReply, Between(
			common.ParseDuration(config.ReplyDelayMin, 10*time.Second),
			common.ParseDuration(config.ReplyDelayMax, 60*time.Second))),
		WithActionsPerHour(config.ActionsPerHour),
	}
	return NewPacer(logger, append(base, opts...)...)
}

// Before blocks until the kind may act: first the hourly budget, then the pre-delay
func (p *Pacer) Before(ctx context.Context, kind string) error {
	if p.limiter != nil && p.budgeted[kind] {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("action budget wait for %s: %w", kind, err)
		}
	}

	r, ok := p.preDelays[kind]
	if !ok {
		return nil
	}
	d := p.rng.pick(r)
	p.logger.Debug().
		Str("kind", kind).
		Dur("delay", d).
		Msg("Pacing before action")
	return p.sleeper.Sleep(ctx, d)
}

// Settle waits a fixed duration after an action
func (p *Pacer) Settle(ctx context.Context, d time.Duration) error {
	return p.sleeper.Sleep(ctx, d)
}

// SettleBetween waits a uniform duration in r
func (p *Pacer) SettleBetween(ctx context.Context, r Range) error {
	return p.sleeper.Sleep(ctx, p.rng.pick(r))
}

// Chance reports true with probability f
func (p *Pacer) Chance(f float64) bool {
	return p.rng.float64() < f
}

// Intn returns a uniform int in [0, n)
func (p *Pacer) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return p.rng.intn(n)
}
