package pacing

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ternarybob/outreach/internal/interfaces"
)

// Keyboard sends keystrokes to the focused element. BrowserSession satisfies it.
type Keyboard interface {
	Press(ctx context.Context, key string) error
	SendKeys(ctx context.Context, text string) error
}

const (
	defaultWPM   = 67
	typoEvery    = 30
	typoChance   = 0.4
	jitterMillis = 100 // Spread of the per-character jitter, centred on zero
)

var (
	noticeTypo  = Ms(150, 350)
	afterErase  = Ms(80, 200)
	punctuation = Ms(200, 500)
	wordGap     = Ms(60, 160)
)

// Typist types text at a human cadence with occasional corrected typos
type Typist struct {
	wpm     int
	rng     *lockedRand
	sleeper Sleeper
}

// TypistOption configures a Typist
type TypistOption func(*Typist)

// WithWPM sets the typing speed in words per minute
func WithWPM(wpm int) TypistOption {
	return func(t *Typist) {
		if wpm > 0 {
			t.wpm = wpm
		}
	}
}

// WithTypistRand injects the random source
func WithTypistRand(rng *rand.Rand) TypistOption {
	return func(t *Typist) {
		t.rng = newLockedRand(rng)
	}
}

// WithTypistSleeper injects the sleeper
func WithTypistSleeper(s Sleeper) TypistOption {
	return func(t *Typist) {
		t.sleeper = s
	}
}

// NewTypist creates a typist at 67 WPM on the wall clock
func NewTypist(opts ...TypistOption) *Typist {
	t := &Typist{
		wpm:     defaultWPM,
		rng:     newLockedRand(nil),
		sleeper: RealSleeper{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BaseInterval is the mean delay between characters: 1000 / (wpm*5/60) ms
func (t *Typist) BaseInterval() time.Duration {
	charsPerSecond := float64(t.wpm) * 5 / 60
	return time.Duration(float64(time.Second) / charsPerSecond)
}

// Type clears element (triple-click + Backspace) and types text one character at a time
func (t *Typist) Type(ctx context.Context, kb Keyboard, element interfaces.Element, text string) error {
	if element == nil {
		return fmt.Errorf("no element to type into")
	}
	if err := element.ClickCount(ctx, 3); err != nil {
		return fmt.Errorf("failed to select existing text: %w", err)
	}
	if err := kb.Press(ctx, interfaces.KeyBackspace); err != nil {
		return fmt.Errorf("failed to clear existing text: %w", err)
	}
	return t.TypeText(ctx, kb, text)
}

// TypeText types text into whatever element has focus
func (t *Typist) TypeText(ctx context.Context, kb Keyboard, text string) error {
	base := t.BaseInterval()
	charCount := 0

	for _, ch := range text {
		jitter := time.Duration((t.rng.float64() - 0.5) * jitterMillis * float64(time.Millisecond))
		if err := t.sleeper.Sleep(ctx, base+jitter); err != nil {
			return err
		}

		if charCount > 0 && charCount%typoEvery == 0 && t.rng.float64() < typoChance && ch != ' ' {
			wrong := ch + rune(t.rng.intn(3)-1)
			if err := kb.SendKeys(ctx, string(wrong)); err != nil {
				return err
			}
			if err := t.sleeper.Sleep(ctx, t.rng.pick(noticeTypo)); err != nil {
				return err
			}
			if err := kb.Press(ctx, interfaces.KeyBackspace); err != nil {
				return err
			}
			if err := t.sleeper.Sleep(ctx, t.rng.pick(afterErase)); err != nil {
				return err
			}
		}

		if err := kb.SendKeys(ctx, string(ch)); err != nil {
			return err
		}
		charCount++

		switch ch {
		case '.', '!', '?', ',':
			if err := t.sleeper.Sleep(ctx, t.rng.pick(punctuation)); err != nil {
				return err
			}
		case ' ':
			if err := t.sleeper.Sleep(ctx, t.rng.pick(wordGap)); err != nil {
				return err
			}
		}
	}

	return nil
}
