package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/models"
)

const rosterYAML = `accounts:
  - id: primary
    email: primary@example.com
    password: secret
    campaign_id: spring
`

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	dir := t.TempDir()

	roster := filepath.Join(dir, "accounts.yaml")
	require.NoError(t, os.WriteFile(roster, []byte(rosterYAML), 0600))

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = filepath.Join(dir, "db")
	cfg.Auth.CookiesDir = filepath.Join(dir, "cookies")
	cfg.Tasks.ArtifactsDir = filepath.Join(dir, "artifacts")
	cfg.Accounts.File = roster
	cfg.Challenge.Console = false
	return cfg
}

func TestNewWiresEveryQueue(t *testing.T) {
	application, err := New(testConfig(t), arbor.NewNoOpLogger())
	require.NoError(t, err)
	defer application.Close()

	assert.Equal(t, []string{
		models.KindConnect,
		models.KindExtract,
		models.KindIdle,
		models.KindInboxPoll,
		models.KindReply,
		models.KindStatusCheck,
	}, application.QueueManager.Kinds())
	assert.Len(t, application.QueueHandlers, len(QueueMounts))
	assert.Equal(t, 1, application.Accounts.Len())

	jobs := application.SchedulerService.GetAllJobStatuses()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.KindInboxPoll, jobs[0].Name)
}

func TestSchedulerDisabledRegistersNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = false

	application, err := New(cfg, arbor.NewNoOpLogger())
	require.NoError(t, err)
	defer application.Close()

	assert.Empty(t, application.SchedulerService.GetAllJobStatuses())
}

func TestUnknownBrowserEngineFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Browser.Engine = "lynx"

	_, err := New(cfg, arbor.NewNoOpLogger())
	assert.Error(t, err)
}

func TestDrainClosesAdmissions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = false

	application, err := New(cfg, arbor.NewNoOpLogger())
	require.NoError(t, err)
	defer application.Close()

	require.NoError(t, application.Start())
	require.NoError(t, application.Drain(context.Background()))

	q, ok := application.QueueManager.Queue(models.KindConnect)
	require.True(t, ok)
	assert.Error(t, q.IsReady())
}

func TestQueueStatsSummary(t *testing.T) {
	application, err := New(testConfig(t), arbor.NewNoOpLogger())
	require.NoError(t, err)
	defer application.Close()

	summary, err := application.queueStats(context.Background())
	require.NoError(t, err)
	assert.Contains(t, summary, "connect: 0 waiting, 0 delayed, 0 active, 0 completed, 0 failed")
}
