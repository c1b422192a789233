package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Browser     BrowserConfig   `toml:"browser"`
	Auth        AuthConfig      `toml:"auth"`
	Pacing      PacingConfig    `toml:"pacing"`
	Tasks       TasksConfig     `toml:"tasks"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Challenge   ChallengeConfig `toml:"challenge"`
	Accounts    AccountsConfig  `toml:"accounts"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port            int    `toml:"port"`
	Host            string `toml:"host"`
	ShutdownTimeout string `toml:"shutdown_timeout"` // e.g. "10m" - how long in-flight jobs may run after a stop signal
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	PollInterval       string `toml:"poll_interval"`        // e.g., "1s" - how often workers poll for jobs
	LockDuration       string `toml:"lock_duration"`        // e.g., "5m" - active job lock, renewed while the handler runs
	KeepCompleted      int    `toml:"keep_completed"`       // Completed jobs retained per queue
	KeepFailed         int    `toml:"keep_failed"`          // Failed jobs retained per queue
	DefaultAttempts    int    `toml:"default_attempts"`     // 0 = single try, manual retry only
	BackoffDelay       string `toml:"backoff_delay"`        // Base of the exponential backoff
	BulkConnectStagger string `toml:"bulk_connect_stagger"` // Delay added per bulk connect item
	BulkReplyStagger   string `toml:"bulk_reply_stagger"`   // Delay added per bulk reply item
	MaxBulkConnect     int    `toml:"max_bulk_connect"`
	MaxBulkReply       int    `toml:"max_bulk_reply"`
	RetryPriority      int    `toml:"retry_priority"`
	DefaultMaxRetries  int    `toml:"default_max_retries"`
}

type BrowserConfig struct {
	Engine       string `toml:"engine"` // "chromedp" or "rod"
	Headless     bool   `toml:"headless"`
	NoSandbox    bool   `toml:"no_sandbox"`
	WindowWidth  int    `toml:"window_width"`
	WindowHeight int    `toml:"window_height"`
	UserAgent    string `toml:"user_agent"`
	ExecPath     string `toml:"exec_path"` // Optional chrome binary
	Record       bool   `toml:"record"`    // Capture screencast frames for status checks
}

type AuthConfig struct {
	Store           string `toml:"store"`       // "file" or "badger"
	CookiesDir      string `toml:"cookies_dir"` // Used by the file store
	FeedURL         string `toml:"feed_url"`
	LoginURL        string `toml:"login_url"`
	NavTimeout      string `toml:"nav_timeout"`       // First attempt at the landing page
	NavRetryTimeout string `toml:"nav_retry_timeout"` // Second attempt
	WarnHorizon     string `toml:"warn_horizon"`      // Cookies expiring within this window are logged
}

type PacingConfig struct {
	WordsPerMinute  int    `toml:"words_per_minute"`
	ConnectDelayMin string `toml:"connect_delay_min"`
	ConnectDelayMax string `toml:"connect_delay_max"`
	ReplyDelayMin   string `toml:"reply_delay_min"`
	ReplyDelayMax   string `toml:"reply_delay_max"`
	ActionsPerHour  int    `toml:"actions_per_hour"` // 0 = unlimited
}

type TasksConfig struct {
	ArtifactsDir       string `toml:"artifacts_dir"`
	InboxMaxThreads    int    `toml:"inbox_max_threads"`
	IdleActions        int    `toml:"idle_actions"`
	DefaultConnectNote string `toml:"default_connect_note"`
}

type SchedulerConfig struct {
	Enabled             bool   `toml:"enabled"`
	Dispatch            string `toml:"dispatch"` // "queue" or "direct"
	Jitter              string `toml:"jitter"`   // Upper bound of the random delay added to each trigger
	InboxEnabled        bool   `toml:"inbox_enabled"`
	InboxSchedule       string `toml:"inbox_schedule"`
	StatusCheckEnabled  bool   `toml:"status_check_enabled"`
	StatusCheckSchedule string `toml:"status_check_schedule"`
	IdleEnabled         bool   `toml:"idle_enabled"`
	IdleSchedule        string `toml:"idle_schedule"`
}

type ChallengeConfig struct {
	Console  bool           `toml:"console"` // Accept confirmations on stdin
	IMAP     IMAPConfig     `toml:"imap"`
	Telegram TelegramConfig `toml:"telegram"`
	SMTP     SMTPConfig     `toml:"smtp"`
}

// IMAPConfig enables automatic resolution of e-mailed verification PINs
type IMAPConfig struct {
	Enabled      bool   `toml:"enabled"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	UseTLS       bool   `toml:"use_tls"`
	PollInterval string `toml:"poll_interval"`
	Timeout      string `toml:"timeout"`
}

type TelegramConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
	ChatID  int64  `toml:"chat_id"`
}

// SMTPConfig e-mails the operator when a challenge is waiting
type SMTPConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	To       string `toml:"to"`
	UseTLS   bool   `toml:"use_tls"`
}

type AccountsConfig struct {
	File    string `toml:"file"`    // YAML roster
	Default string `toml:"default"` // Account used when a request names none
}

type WebSocketConfig struct {
	ProgressThrottle string `toml:"progress_throttle"` // Minimum interval between progress events, "" = unthrottled
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:            3000,
			Host:            "localhost",
			ShutdownTimeout: "10m",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/outreach",
			},
		},
		Queue: QueueConfig{
			PollInterval:       "1s",
			LockDuration:       "5m",
			KeepCompleted:      10,
			KeepFailed:         50,
			DefaultAttempts:    0,
			BackoffDelay:       "2s",
			BulkConnectStagger: "30s",
			BulkReplyStagger:   "15s",
			MaxBulkConnect:     100,
			MaxBulkReply:       50,
			RetryPriority:      10,
			DefaultMaxRetries:  3,
		},
		Browser: BrowserConfig{
			Engine:       "chromedp",
			Headless:     true,
			NoSandbox:    true,
			WindowWidth:  1280,
			WindowHeight: 800,
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Auth: AuthConfig{
			Store:           "file",
			CookiesDir:      "./data/cookies",
			FeedURL:         "https://www.linkedin.com/feed/",
			LoginURL:        "https://www.linkedin.com/login",
			NavTimeout:      "30s",
			NavRetryTimeout: "60s",
			WarnHorizon:     "1h",
		},
		Pacing: PacingConfig{
			WordsPerMinute:  67,
			ConnectDelayMin: "30s",
			ConnectDelayMax: "120s",
			ReplyDelayMin:   "10s",
			ReplyDelayMax:   "60s",
		},
		Tasks: TasksConfig{
			ArtifactsDir:       "./artifacts",
			InboxMaxThreads:    200,
			IdleActions:        5,
			DefaultConnectNote: "Hi, I'd like to connect with you!",
		},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			Dispatch:            "queue",
			Jitter:              "2m",
			InboxEnabled:        true,
			InboxSchedule:       "0 */1 * * *",
			StatusCheckEnabled:  false,
			StatusCheckSchedule: "*/1 * * * *",
			IdleEnabled:         false,
			IdleSchedule:        "30 */3 * * *",
		},
		Challenge: ChallengeConfig{
			Console: true,
			IMAP: IMAPConfig{
				Port:         993,
				UseTLS:       true,
				PollInterval: "10s",
				Timeout:      "5m",
			},
			SMTP: SMTPConfig{
				Port:   587,
				UseTLS: true,
			},
		},
		Accounts: AccountsConfig{
			File:    "./accounts.yaml",
			Default: "default",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards with ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("OUTREACH_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("OUTREACH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if port := os.Getenv("API_PORT"); port != "" && os.Getenv("OUTREACH_SERVER_PORT") == "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("OUTREACH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage
	if badgerPath := os.Getenv("OUTREACH_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Queue
	if pollInterval := os.Getenv("OUTREACH_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if attempts := os.Getenv("OUTREACH_QUEUE_DEFAULT_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.Queue.DefaultAttempts = a
		}
	}

	// Browser
	if engine := os.Getenv("OUTREACH_BROWSER_ENGINE"); engine != "" {
		config.Browser.Engine = engine
	}
	if headless := os.Getenv("OUTREACH_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if record := os.Getenv("OUTREACH_BROWSER_RECORD"); record != "" {
		if r, err := strconv.ParseBool(record); err == nil {
			config.Browser.Record = r
		}
	}

	// Auth
	if store := os.Getenv("OUTREACH_AUTH_STORE"); store != "" {
		config.Auth.Store = store
	}
	if cookiesDir := os.Getenv("OUTREACH_AUTH_COOKIES_DIR"); cookiesDir != "" {
		config.Auth.CookiesDir = cookiesDir
	}

	// Pacing
	if wpm := os.Getenv("OUTREACH_PACING_WPM"); wpm != "" {
		if w, err := strconv.Atoi(wpm); err == nil {
			config.Pacing.WordsPerMinute = w
		}
	}
	if perHour := os.Getenv("OUTREACH_PACING_ACTIONS_PER_HOUR"); perHour != "" {
		if p, err := strconv.Atoi(perHour); err == nil {
			config.Pacing.ActionsPerHour = p
		}
	}

	// Tasks
	if artifacts := os.Getenv("OUTREACH_ARTIFACTS_DIR"); artifacts != "" {
		config.Tasks.ArtifactsDir = artifacts
	}

	// Scheduler
	if enabled := os.Getenv("OUTREACH_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if schedule := os.Getenv("OUTREACH_SCHEDULER_INBOX_SCHEDULE"); schedule != "" {
		config.Scheduler.InboxSchedule = schedule
	}
	if schedule := os.Getenv("OUTREACH_SCHEDULER_STATUS_CHECK_SCHEDULE"); schedule != "" {
		config.Scheduler.StatusCheckSchedule = schedule
	}
	if enabled := os.Getenv("OUTREACH_SCHEDULER_STATUS_CHECK_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.StatusCheckEnabled = e
		}
	}

	// Challenge resolution
	if console := os.Getenv("OUTREACH_CHALLENGE_CONSOLE"); console != "" {
		if c, err := strconv.ParseBool(console); err == nil {
			config.Challenge.Console = c
		}
	}
	if token := os.Getenv("OUTREACH_TELEGRAM_TOKEN"); token != "" {
		config.Challenge.Telegram.Token = token
		config.Challenge.Telegram.Enabled = true
	}
	if chatID := os.Getenv("OUTREACH_TELEGRAM_CHAT_ID"); chatID != "" {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			config.Challenge.Telegram.ChatID = id
		}
	}
	if imapHost := os.Getenv("OUTREACH_IMAP_HOST"); imapHost != "" {
		config.Challenge.IMAP.Host = imapHost
		config.Challenge.IMAP.Enabled = true
	}
	if imapUser := os.Getenv("OUTREACH_IMAP_USERNAME"); imapUser != "" {
		config.Challenge.IMAP.Username = imapUser
	}
	if imapPass := os.Getenv("OUTREACH_IMAP_PASSWORD"); imapPass != "" {
		config.Challenge.IMAP.Password = imapPass
	}

	if smtpHost := os.Getenv("OUTREACH_SMTP_HOST"); smtpHost != "" {
		config.Challenge.SMTP.Host = smtpHost
		config.Challenge.SMTP.Enabled = true
	}
	if smtpUser := os.Getenv("OUTREACH_SMTP_USERNAME"); smtpUser != "" {
		config.Challenge.SMTP.Username = smtpUser
	}
	if smtpPass := os.Getenv("OUTREACH_SMTP_PASSWORD"); smtpPass != "" {
		config.Challenge.SMTP.Password = smtpPass
	}
	if smtpTo := os.Getenv("OUTREACH_SMTP_TO"); smtpTo != "" {
		config.Challenge.SMTP.To = smtpTo
	}

	// Accounts
	if accountsFile := os.Getenv("OUTREACH_ACCOUNTS_FILE"); accountsFile != "" {
		config.Accounts.File = accountsFile
	}

	// Logging
	if level := os.Getenv("OUTREACH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("OUTREACH_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	switch c.Browser.Engine {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("invalid browser engine %q: use chromedp or rod", c.Browser.Engine)
	}
	switch c.Auth.Store {
	case "file", "badger":
	default:
		return fmt.Errorf("invalid auth store %q: use file or badger", c.Auth.Store)
	}
	switch c.Scheduler.Dispatch {
	case "queue", "direct":
	default:
		return fmt.Errorf("invalid scheduler dispatch %q: use queue or direct", c.Scheduler.Dispatch)
	}

	schedules := map[string]string{
		"inbox_schedule":        c.Scheduler.InboxSchedule,
		"status_check_schedule": c.Scheduler.StatusCheckSchedule,
		"idle_schedule":         c.Scheduler.IdleSchedule,
	}
	for name, schedule := range schedules {
		if err := ValidateSchedule(schedule); err != nil {
			return fmt.Errorf("scheduler.%s: %w", name, err)
		}
	}

	if c.Queue.KeepCompleted < 0 || c.Queue.KeepFailed < 0 {
		return fmt.Errorf("queue retention must not be negative")
	}
	return nil
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ParseDuration parses a config duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
