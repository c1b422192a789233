// -----------------------------------------------------------------------
// App - wires storage, browser automation, queues and HTTP handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/handlers"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
	"github.com/ternarybob/outreach/internal/queue/workers"
	"github.com/ternarybob/outreach/internal/services/auth"
	"github.com/ternarybob/outreach/internal/services/browser"
	"github.com/ternarybob/outreach/internal/services/challenge"
	"github.com/ternarybob/outreach/internal/services/events"
	"github.com/ternarybob/outreach/internal/services/pacing"
	"github.com/ternarybob/outreach/internal/services/records"
	"github.com/ternarybob/outreach/internal/services/scheduler"
	"github.com/ternarybob/outreach/internal/services/tasks"
	"github.com/ternarybob/outreach/internal/storage"
	"github.com/ternarybob/outreach/internal/storage/badger"
)

// QueueMount describes where the shared endpoints of a queue are served
type QueueMount struct {
	Kind    string
	Prefix  string
	Service string
}

// QueueMounts lists the queues exposed over HTTP. The idle queue is scheduler-only.
var QueueMounts = []QueueMount{
	{Kind: models.KindConnect, Prefix: "/connect", Service: "LinkedIn Connect Request Bot"},
	{Kind: models.KindReply, Prefix: "/reply", Service: "LinkedIn Reply Bot"},
	{Kind: models.KindExtract, Prefix: "/extract", Service: "LinkedIn Profile Extractor"},
	{Kind: models.KindStatusCheck, Prefix: "/status-check", Service: "LinkedIn Status Checker"},
	{Kind: models.KindInboxPoll, Prefix: "/inbox", Service: "LinkedIn Inbox Poller"},
}

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager *badger.Manager
	Records        *records.Repositories
	Accounts       *common.AccountRegistry
	EventService   *events.Service

	// Browser automation
	Driver      interfaces.BrowserDriver
	AuthService *auth.Service
	Pacer       *pacing.Pacer
	Typist      *pacing.Typist

	// Executors are shared by queue workers and direct scheduler dispatch
	Connector     *tasks.Connector
	Replier       *tasks.Replier
	StatusChecker *tasks.StatusChecker
	InboxPoller   *tasks.InboxPoller
	Extractor     *tasks.Extractor
	Idler         *tasks.Idler

	// Operator channels for security challenges
	Gate     *challenge.Gate
	Console  *challenge.Console
	Telegram *challenge.Telegram

	QueueManager     *queue.Manager
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	QueueHandlers    []*handlers.QueueHandler
	ConnectHandler   *handlers.ConnectHandler
	ReplyHandler     *handlers.ReplyHandler
	TaskHandler      *handlers.TaskHandler
	ChallengeHandler *handlers.ChallengeHandler
	SchedulerHandler *handlers.SchedulerHandler
	WSHandler        *handlers.WebSocketHandler
}

// New initializes the application with all dependencies. Workers and the
// scheduler do not run until Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initQueues(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize queues: %w", err)
	}

	if err := app.initScheduler(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info().
		Int("accounts", app.Accounts.Len()).
		Strs("queues", app.QueueManager.Kinds()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens Badger, the record repositories and the account roster
func (a *App) initDatabase() error {
	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = manager
	a.Records = records.NewRepositories(manager.DocumentStore(), a.Logger)

	accounts, err := common.LoadAccounts(a.Config)
	if err != nil {
		return err
	}
	if accounts.Len() == 0 {
		a.Logger.Warn().Str("file", a.Config.Accounts.File).Msg("No LinkedIn accounts configured - jobs will fail until one is added")
	}
	a.Accounts = accounts

	return nil
}

// initServices creates the browser stack, the challenge channels and the executors
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)

	driver, err := browser.NewDriver(a.Config.Browser, a.Logger)
	if err != nil {
		return err
	}
	a.Driver = driver

	credentials, err := storage.NewCredentialStorage(a.Logger, a.Config, a.StorageManager)
	if err != nil {
		return err
	}

	a.Pacer = pacing.NewPacerFromConfig(a.Config.Pacing, a.Logger)
	a.Typist = pacing.NewTypist(pacing.WithWPM(a.Config.Pacing.WordsPerMinute))

	if err := a.initChallenge(); err != nil {
		return err
	}

	var resolver interfaces.ChallengeResolver = a.Gate
	if imap := a.Config.Challenge.IMAP; imap.Enabled {
		resolver = challenge.NewPinResolver(imap, challenge.IMAPMailboxes(imap, a.Logger), a.Gate, a.Logger,
			challenge.WithPinTypist(a.Typist))
		a.Logger.Info().Str("host", imap.Host).Msg("E-mail PIN resolution enabled")
	}

	a.AuthService = auth.NewService(a.Config.Auth, driver, credentials, a.Logger,
		auth.WithChallengeResolver(resolver),
		auth.WithPacer(a.Pacer),
		auth.WithTypist(a.Typist),
	)

	env := tasks.Env{
		Sessions:     a.AuthService,
		Records:      a.Records,
		Pacer:        a.Pacer,
		Typist:       a.Typist,
		ArtifactsDir: a.Config.Tasks.ArtifactsDir,
		Logger:       a.Logger,
	}
	a.Connector = tasks.NewConnector(env, a.Config.Tasks.DefaultConnectNote)
	a.Replier = tasks.NewReplier(env)
	a.StatusChecker = tasks.NewStatusChecker(env, a.Config.Browser.Record)
	a.InboxPoller = tasks.NewInboxPoller(env, a.Config.Tasks.InboxMaxThreads)
	a.Extractor = tasks.NewExtractor(env)
	a.Idler = tasks.NewIdler(env, a.Config.Tasks.IdleActions)

	return nil
}

// initChallenge creates the gate and attaches every enabled notifier
func (a *App) initChallenge() error {
	a.Gate = challenge.NewGate(a.Logger)
	cfg := a.Config.Challenge

	if cfg.Console {
		a.Console = challenge.NewConsole(a.Gate, os.Stdin, os.Stdout, a.Logger)
		a.Gate.AddNotifier(a.Console)
	}

	if cfg.Telegram.Enabled {
		t, err := challenge.NewTelegram(cfg.Telegram, a.Gate, a.queueStats, a.Logger)
		if err != nil {
			return err
		}
		a.Telegram = t
		a.Gate.AddNotifier(t)
	}

	if cfg.SMTP.Enabled {
		n, err := challenge.NewMailNotifier(cfg.SMTP, a.Logger)
		if err != nil {
			return err
		}
		a.Gate.AddNotifier(n)
	}

	return nil
}

// initQueues creates one Badger-backed queue per task kind and binds its worker
func (a *App) initQueues() error {
	a.QueueManager = queue.NewManager(a.StorageManager.DB().Badger(), queue.ConfigFrom(a.Config.Queue), a.EventService, a.Logger)

	return workers.Register(a.QueueManager,
		workers.NewConnectWorker(a.Connector, a.Accounts, a.Logger),
		workers.NewReplyWorker(a.Replier, a.Accounts, a.Logger),
		workers.NewStatusCheckWorker(a.StatusChecker, a.Accounts, a.Logger),
		workers.NewInboxWorker(a.InboxPoller, a.Accounts, a.Logger),
		workers.NewExtractWorker(a.Extractor, a.Accounts, a.Logger),
		workers.NewIdleWorker(a.Idler, a.Accounts, a.Logger),
	)
}

// initScheduler creates the cron service; triggers are registered only when enabled
func (a *App) initScheduler() error {
	cfg := a.Config.Scheduler
	a.SchedulerService = scheduler.NewService(a.Logger,
		scheduler.WithJitter(common.ParseDuration(cfg.Jitter, 0)))

	if !cfg.Enabled {
		a.Logger.Info().Msg("Scheduler disabled")
		return nil
	}

	var runners scheduler.Runners
	if cfg.Dispatch == "direct" {
		runners = scheduler.Runners{
			Inbox:  a.InboxPoller,
			Status: a.StatusChecker,
			Idle:   a.Idler,
		}
	}

	triggers := scheduler.NewTriggers(a.Accounts, a.QueueManager, runners, cfg.Dispatch, a.Config.Tasks.IdleActions, a.Logger)
	return scheduler.RegisterTriggers(a.SchedulerService, triggers, cfg)
}

// initHandlers creates all HTTP handlers
func (a *App) initHandlers() error {
	admission := handlers.AdmissionConfigFrom(a.Config.Queue)
	validator := handlers.NewRequestValidator()

	queues := make(map[string]*queue.BadgerQueue, len(QueueMounts))
	for _, m := range QueueMounts {
		q, ok := a.QueueManager.Queue(m.Kind)
		if !ok {
			return fmt.Errorf("queue %s is not registered", m.Kind)
		}
		queues[m.Kind] = q
		a.QueueHandlers = append(a.QueueHandlers, handlers.NewQueueHandler(q, m.Prefix, m.Service, a.Logger))
	}

	a.APIHandler = handlers.NewAPIHandler(a.QueueManager, a.Logger)
	a.ConnectHandler = handlers.NewConnectHandler(queues[models.KindConnect], a.Accounts, validator, admission, a.Logger)
	a.ReplyHandler = handlers.NewReplyHandler(queues[models.KindReply], a.Accounts, validator, admission, a.Logger)
	a.TaskHandler = handlers.NewTaskHandler(queues[models.KindExtract], queues[models.KindStatusCheck], queues[models.KindInboxPoll],
		a.Accounts, validator, admission, a.Logger)
	a.ChallengeHandler = handlers.NewChallengeHandler(a.Gate, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)

	return nil
}

// Start launches the queue workers, the scheduler and the operator channels
func (a *App) Start() error {
	if err := a.QueueManager.Start(); err != nil {
		return err
	}

	if a.Config.Scheduler.Enabled {
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if a.Console != nil {
		common.SafeGo(a.Logger, "challenge-console", func() { a.Console.Run(a.ctx) })
	}
	if a.Telegram != nil {
		common.SafeGo(a.Logger, "telegram-bot", func() { a.Telegram.Start(a.ctx) })
	}

	return nil
}

// Drain stops new work and waits for in-flight jobs until ctx expires.
// Admission endpoints answer 503 from the moment the queues close.
func (a *App) Drain(ctx context.Context) error {
	if err := a.SchedulerService.Stop(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
	}

	a.Logger.Info().Msg("Waiting for in-flight jobs")
	if err := a.QueueManager.Stop(ctx); err != nil {
		return fmt.Errorf("queue workers did not stop cleanly: %w", err)
	}
	a.Logger.Info().Msg("Queue workers stopped")
	return nil
}

// ShutdownTimeout is how long Drain may wait for in-flight jobs
func (a *App) ShutdownTimeout() time.Duration {
	return common.ParseDuration(a.Config.Server.ShutdownTimeout, 10*time.Minute)
}

// Close releases every resource. It is safe to call after a partial New.
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.QueueManager != nil {
		a.QueueManager.Close()
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

// queueStats summarises every queue for the Telegram /stats command
func (a *App) queueStats(ctx context.Context) (string, error) {
	if a.QueueManager == nil {
		return "Queues are not ready", nil
	}

	var b strings.Builder
	for _, kind := range a.QueueManager.Kinds() {
		q, _ := a.QueueManager.Queue(kind)
		counts, err := q.Counts(ctx)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s: %d waiting, %d delayed, %d active, %d completed, %d failed\n",
			kind, counts.Waiting, counts.Delayed, counts.Active, counts.Completed, counts.Failed)
	}
	return strings.TrimSpace(b.String()), nil
}
