package tasks

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/outreach/internal/models"
)

var threadIDPattern = regexp.MustCompile(`messaging/thread/([^/?#]+)`)

// threadIDFromURL extracts the conversation id of a thread URL
func threadIDFromURL(url string) (string, bool) {
	m := threadIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// namesMatch compares a conversation header with a profile name, ignoring case and
// spacing. Besides equality, the words of one name may all appear in the other as
// long as that name has at least two words, so "Jane Doe" matches "Jane Q. Doe"
// while "Jane" alone matches nothing.
func namesMatch(a, b string) bool {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	ta, tb := strings.Fields(na), strings.Fields(nb)
	return wordsWithin(ta, tb) || wordsWithin(tb, ta)
}

func wordsWithin(words, in []string) bool {
	if len(words) < 2 {
		return false
	}
	set := make(map[string]bool, len(in))
	for _, w := range in {
		set[w] = true
	}
	for _, w := range words {
		if !set[w] {
			return false
		}
	}
	return true
}

// matchProfile returns the first profile whose name matches the thread header
func matchProfile(threadName string, profiles []models.Profile) (models.Profile, bool) {
	for _, p := range profiles {
		if namesMatch(threadName, p.Name) {
			return p, true
		}
	}
	return models.Profile{}, false
}

var clockLayouts = []string{"3:04 PM", "3:04PM", "15:04"}

// parseMessageTime reads a message timestamp. Full timestamps are used as they are;
// a bare clock time is placed on now's date, so messages from earlier days shown
// only with a time are dated today. Anything unreadable is now.
func parseMessageTime(value string, now time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return now
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	upper := strings.ToUpper(value)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, upper); err == nil {
			return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		}
	}
	return now
}

// parseThreadMessages reads the messages sent by counterpart from a thread page.
// Sender names and time headings are shown once per group, so both carry over to
// the following items until replaced.
func parseThreadMessages(html, counterpart string, now time.Time) ([]models.ThreadMessage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse thread page: %w", err)
	}

	var messages []models.ThreadMessage
	var sender, stamp string
	doc.Find(messageEvent).Each(func(_ int, item *goquery.Selection) {
		if heading := item.Find(messageTime).First(); heading.Length() > 0 {
			if dt, ok := heading.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
				stamp = dt
			} else {
				stamp = heading.Text()
			}
		}
		if name := strings.TrimSpace(item.Find(messageSender).First().Text()); name != "" {
			sender = name
		}

		body := strings.TrimSpace(item.Find(messageBody).First().Text())
		if body == "" || normalizeName(sender) != normalizeName(counterpart) {
			return
		}
		messages = append(messages, models.ThreadMessage{
			Sender:    sender,
			Content:   body,
			Timestamp: parseMessageTime(stamp, now),
		})
	})
	return messages, nil
}
