package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamesMatch(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"Jane Doe", "jane  doe", true},
		{"Jane Q. Doe", "Jane Doe", true},
		{"Jane Doe", "Jane Q. Doe", true},
		{"Jane", "Jane Doe", false},
		{"Jane Doe", "John Doe", false},
		{"", "Jane Doe", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, namesMatch(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
}

func TestThreadIDFromURL(t *testing.T) {
	id, ok := threadIDFromURL("https://www.linkedin.com/messaging/thread/2-abc==/?x=1")
	assert.True(t, ok)
	assert.Equal(t, "2-abc==", id)

	_, ok = threadIDFromURL("https://www.linkedin.com/messaging/")
	assert.False(t, ok)
}

func TestParseMessageTime(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 3, 3, 14, 5, 0, 0, time.UTC), parseMessageTime("2:05 pm", now))
	assert.Equal(t, time.Date(2025, 3, 3, 7, 30, 0, 0, time.UTC), parseMessageTime("07:30", now))
	assert.True(t, parseMessageTime("2025-03-01T08:00:00Z", now).Equal(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, now, parseMessageTime("Yesterday", now))
	assert.Equal(t, now, parseMessageTime("", now))
}

func TestParseThreadMessagesCarriesSenderAndTime(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	messages, err := parseThreadMessages(janeThreadHTML, "jane q.  doe", now)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	stamp := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "Jane Q. Doe", messages[1].Sender)
	assert.Equal(t, "Are you free next week?", messages[1].Content)
	assert.True(t, messages[1].Timestamp.Equal(stamp))

	none, err := parseThreadMessages(janeThreadHTML, "Someone Else", now)
	require.NoError(t, err)
	assert.Empty(t, none)
}
