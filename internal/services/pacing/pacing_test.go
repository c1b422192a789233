package pacing

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

type fakeKeyboard struct {
	buffer  []rune
	presses []string
}

func (k *fakeKeyboard) Press(ctx context.Context, key string) error {
	k.presses = append(k.presses, key)
	if key == interfaces.KeyBackspace && len(k.buffer) > 0 {
		k.buffer = k.buffer[:len(k.buffer)-1]
	}
	return nil
}

func (k *fakeKeyboard) SendKeys(ctx context.Context, text string) error {
	k.buffer = append(k.buffer, []rune(text)...)
	return nil
}

type fakeElement struct {
	clickCounts []int
}

func (e *fakeElement) Click(ctx context.Context) error { return e.ClickCount(ctx, 1) }
func (e *fakeElement) ClickCount(ctx context.Context, n int) error {
	e.clickCounts = append(e.clickCounts, n)
	return nil
}
func (e *fakeElement) ClickClosest(ctx context.Context, selector string) error { return nil }
func (e *fakeElement) Type(ctx context.Context, text string) error { return nil }
func (e *fakeElement) Text(ctx context.Context) (string, error) { return "", nil }
func (e *fakeElement) Attribute(ctx context.Context, name string) (string, error) { return "", nil }
func (e *fakeElement) IsEnabled(ctx context.Context) (bool, error) { return true, nil }
func (e *fakeElement) Find(ctx context.Context, s string) (interfaces.Element, error) { return nil, nil }

func TestTypistBaseInterval(t *testing.T) {
	typist := NewTypist()
	assert.InDelta(t, 179.1, float64(typist.BaseInterval())/float64(time.Millisecond), 0.1)
}

func TestTypistClearsThenTypesMessage(t *testing.T) {
	sleeper := &RecordingSleeper{}
	typist := NewTypist(WithTypistRand(rand.New(rand.NewSource(7))), WithTypistSleeper(sleeper))

	kb := &fakeKeyboard{}
	el := &fakeElement{}
	require.NoError(t, typist.Type(context.Background(), kb, el, "Hello, world!"))

	assert.Equal(t, []int{3}, el.clickCounts)
	assert.Equal(t, interfaces.KeyBackspace, kb.presses[0])
	assert.Equal(t, "Hello, world!", string(kb.buffer))
}

func TestTypistSixtyCharactersWithinBounds(t *testing.T) {
	message := "Thanks for connecting, Jane. Would love to hear your thought"
	require.Len(t, message, 60)

	spaces := strings.Count(message, " ")
	punct := strings.Count(message, ",") + strings.Count(message, ".")

	for seed := int64(1); seed <= 20; seed++ {
		sleeper := &RecordingSleeper{}
		typist := NewTypist(WithTypistRand(rand.New(rand.NewSource(seed))), WithTypistSleeper(sleeper))

		kb := &fakeKeyboard{}
		require.NoError(t, typist.Type(context.Background(), kb, &fakeElement{}, message))
		assert.Equal(t, message, string(kb.buffer), "seed %d", seed)

		base := typist.BaseInterval()
		n := time.Duration(len(message))
		lower := n*(base-50*time.Millisecond) +
			time.Duration(spaces)*60*time.Millisecond +
			time.Duration(punct)*200*time.Millisecond
		// At most one typo: position 30 is the only multiple of 30 before the end
		upper := n*(base+50*time.Millisecond) +
			time.Duration(spaces)*160*time.Millisecond +
			time.Duration(punct)*500*time.Millisecond +
			550*time.Millisecond

		total := sleeper.Total()
		assert.GreaterOrEqual(t, total, lower, "seed %d", seed)
		assert.LessOrEqual(t, total, upper, "seed %d", seed)
	}
}

func TestTypistIsDeterministicForSeed(t *testing.T) {
	run := func() []time.Duration {
		sleeper := &RecordingSleeper{}
		typist := NewTypist(WithTypistRand(rand.New(rand.NewSource(42))), WithTypistSleeper(sleeper))
		require.NoError(t, typist.TypeText(context.Background(), &fakeKeyboard{}, strings.Repeat("abc def. ", 10)))
		return sleeper.Calls()
	}
	assert.Equal(t, run(), run())
}

func TestTypistStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	typist := NewTypist(WithTypistSleeper(&RecordingSleeper{}))
	err := typist.TypeText(ctx, &fakeKeyboard{}, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPacerPreDelayPerKind(t *testing.T) {
	sleeper := &RecordingSleeper{}
	pacer := NewPacer(arbor.NewNoOpLogger(), WithPacerSleeper(sleeper), WithPacerRand(rand.New(rand.NewSource(3))))
	ctx := context.Background()

	require.NoError(t, pacer.Before(ctx, models.KindConnect))
	require.NoError(t, pacer.Before(ctx, models.KindReply))
	require.NoError(t, pacer.Before(ctx, models.KindExtract))
	require.NoError(t, pacer.Before(ctx, models.KindStatusCheck))

	calls := sleeper.Calls()
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[0], 30*time.Second)
	assert.LessOrEqual(t, calls[0], 120*time.Second)
	assert.GreaterOrEqual(t, calls[1], 10*time.Second)
	assert.LessOrEqual(t, calls[1], 60*time.Second)
}

func TestPacerHourlyBudgetBlocks(t *testing.T) {
	pacer := NewPacer(arbor.NewNoOpLogger(), WithPacerSleeper(&RecordingSleeper{}), WithActionsPerHour(1))

	require.NoError(t, pacer.Before(context.Background(), models.KindStatusCheck))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, pacer.Before(ctx, models.KindStatusCheck))

	// Read-only kinds are not budgeted
	assert.NoError(t, pacer.Before(ctx, models.KindInboxPoll))
}

func TestRangePickStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	r := Between(3*time.Second, 8*time.Second)
	for i := 0; i < 1000; i++ {
		d := r.Pick(rng)
		assert.GreaterOrEqual(t, d, r.Min)
		assert.LessOrEqual(t, d, r.Max)
	}
	assert.Equal(t, time.Second, Between(time.Second, time.Second).Pick(rng))
}
