// Package records reconciles task outcomes into profile and thread documents.
// Every write merges only the fields the calling task owns, and a merge that
// changes nothing writes nothing.
package records

import (
	"encoding/json"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/ternarybob/outreach/internal/interfaces"
)

// Collection names
const (
	ProfileSearchesCollection = "ProfileSearches"
	MessageThreadsCollection  = "MessageThreads"
)

// CampaignBotsCollection is the collection of bot accounts of one campaign
func CampaignBotsCollection(campaignID string) string {
	return "Campaigns/" + campaignID + "/bot_accounts"
}

// NormalizeLink reduces a profile URL to a comparable key
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if u, err := url.Parse(link); err == nil && u.Host != "" {
		u.RawQuery = ""
		u.Fragment = ""
		u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		u.Scheme = "https"
		link = u.String()
	}
	return strings.TrimRight(link, "/")
}

// normalize converts v to the shape it has after a store round trip
func normalize(v interface{}) interface{} {
	if v == interfaces.ServerTimestamp {
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func sameValue(a, b interface{}) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case *time.Time:
		return val == nil
	}
	return false
}

func truthy(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// parseTime reads a stored timestamp, zero when absent
func parseTime(v interface{}) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t
		}
	}
	return time.Time{}
}

// decodeInto converts stored fields into a typed view
func decodeInto(fields map[string]interface{}, v interface{}) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
