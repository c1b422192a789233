package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/services/challenge"
	"github.com/ternarybob/outreach/internal/services/scheduler"
)

type fakeGate struct {
	pending   []challenge.Pending
	confirmed []string
}

func (g *fakeGate) Pending() []challenge.Pending { return g.pending }

func (g *fakeGate) Confirm(accountID string) (challenge.Pending, error) {
	for i, p := range g.pending {
		if p.AccountID == accountID {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			g.confirmed = append(g.confirmed, accountID)
			return p, nil
		}
	}
	return challenge.Pending{}, fmt.Errorf("%w for account %q", challenge.ErrNoPendingChallenge, accountID)
}

func TestChallengeEndpoints(t *testing.T) {
	since := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	gate := &fakeGate{pending: []challenge.Pending{
		{AccountID: "primary", URL: "https://www.linkedin.com/checkpoint/challenge/1", Since: since},
	}}
	h := NewChallengeHandler(gate, arbor.NewNoOpLogger())

	rec, body := get(t, h.ListChallengesHandler, "/auth/challenges")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = post(t, h.ConfirmChallengeHandler, "/auth/challenges/primary/confirm", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "primary", body["accountId"])
	assert.Equal(t, []string{"primary"}, gate.confirmed)

	rec, body = post(t, h.ConfirmChallengeHandler, "/auth/challenges/primary/confirm", ``)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No pending challenge", body["error"])

	rec, _ = post(t, h.ConfirmChallengeHandler, "/auth/challenges/primary", ``)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeScheduler struct {
	triggered []string
}

func (s *fakeScheduler) GetAllJobStatuses() []*scheduler.JobStatus {
	return []*scheduler.JobStatus{{Name: "inbox-poll", Schedule: "0 */1 * * *"}}
}

func (s *fakeScheduler) TriggerJob(name string) error {
	if name != "inbox-poll" {
		return fmt.Errorf("job %s not found", name)
	}
	s.triggered = append(s.triggered, name)
	return nil
}

func TestSchedulerEndpoints(t *testing.T) {
	s := &fakeScheduler{}
	h := NewSchedulerHandler(s)

	rec, body := get(t, h.ListJobsHandler, "/scheduler/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := body["jobs"].([]interface{})
	require.Len(t, jobs, 1)
	assert.Equal(t, "0 */1 * * *", jobs[0].(map[string]interface{})["schedule"])

	rec, _ = post(t, h.TriggerJobHandler, "/scheduler/jobs/inbox-poll/trigger", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"inbox-poll"}, s.triggered)

	rec, _ = post(t, h.TriggerJobHandler, "/scheduler/jobs/idle/trigger", ``)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = get(t, h.TriggerJobHandler, "/scheduler/jobs/inbox-poll/trigger")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
