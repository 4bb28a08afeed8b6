package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/adapter"
	"github.com/jrodrigosm/llm-user-memory/pkg/metrics"
	"github.com/jrodrigosm/llm-user-memory/pkg/policy"
	"github.com/jrodrigosm/llm-user-memory/pkg/repository"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/cursor"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/update"
	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"
)

// config holds configuration values
type config struct {
	// Paths and switches
	userPath  string
	memoryDir string
	disabled  bool
	logLevel  string
	debug     bool
	logFile   string

	// Profile store
	store      string
	project    string
	database   string
	bucket     string
	prefix     string
	documentID string

	// Interaction log
	logSource     string
	logDB         string
	bigqueryTable string

	// Adapters
	anthropicAPIKey string
	anthropicModel  string
	geminiProject   string
	geminiLocation  string
	geminiModel     string
	defaultBackend  string

	// Update engine
	updates           bool
	interval          string
	policyDir         string
	rateLimit         float64
	completionTimeout time.Duration
	batchSize         int64
}

// closers releases clients opened by factory methods
type closers []io.Closer

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		_ = c[i].Close()
	}
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "user-path",
			Usage:       "Directory of the assistant's user data (logs.db lives here)",
			Sources:     cli.EnvVars("LLM_USER_PATH"),
			Destination: &cfg.userPath,
		},
		&cli.StringFlag{
			Name:        "memory-dir",
			Usage:       "Directory holding profile.md and control.yaml (default: <user-path>/memory)",
			Sources:     cli.EnvVars("LLM_MEMORY_DIR"),
			Destination: &cfg.memoryDir,
		},
		&cli.BoolFlag{
			Name:        "disabled",
			Usage:       "Disable the memory fragment entirely",
			Sources:     cli.EnvVars("LLM_MEMORY_DISABLED"),
			Destination: &cfg.disabled,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("LLM_MEMORY_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "Shortcut for --log-level=debug",
			Sources:     cli.EnvVars("LLM_MEMORY_DEBUG"),
			Destination: &cfg.debug,
		},
	}
}

// storeFlags returns flags selecting the profile store backend
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Profile store backend (file, firestore, storage)",
			Value:       "file",
			Sources:     cli.EnvVars("LLM_MEMORY_STORE"),
			Destination: &cfg.store,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "profile-id",
			Usage:       "Firestore document ID of the profile",
			Value:       "default",
			Sources:     cli.EnvVars("LLM_MEMORY_PROFILE_ID"),
			Destination: &cfg.documentID,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for the profile",
			Sources:     cli.EnvVars("LLM_MEMORY_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object prefix in the Cloud Storage bucket",
			Value:       "llm-memory",
			Sources:     cli.EnvVars("LLM_MEMORY_PREFIX"),
			Destination: &cfg.prefix,
		},
	}
}

// logSourceFlags returns flags selecting where interaction logs are read
func logSourceFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-source",
			Usage:       "Interaction log source (sqlite, bigquery)",
			Value:       "sqlite",
			Sources:     cli.EnvVars("LLM_MEMORY_LOG_SOURCE"),
			Destination: &cfg.logSource,
		},
		&cli.StringFlag{
			Name:        "log-db",
			Usage:       "Path of the assistant's log database (default: <user-path>/logs.db)",
			Sources:     cli.EnvVars("LLM_MEMORY_LOG_DB"),
			Destination: &cfg.logDB,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table with exported interaction logs (dataset.table)",
			Sources:     cli.EnvVars("LLM_MEMORY_BIGQUERY_TABLE"),
			Destination: &cfg.bigqueryTable,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "anthropic-model",
			Usage:       "Claude model for entries not produced by a Claude model",
			Sources:     cli.EnvVars("LLM_MEMORY_ANTHROPIC_MODEL"),
			Destination: &cfg.anthropicModel,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model for entries not produced by a Gemini model",
			Sources:     cli.EnvVars("LLM_MEMORY_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "default-backend",
			Usage:       "Backend for entries from other models (gemini, claude)",
			Value:       "gemini",
			Sources:     cli.EnvVars("LLM_MEMORY_DEFAULT_BACKEND"),
			Destination: &cfg.defaultBackend,
		},
	}
}

// engineFlags returns flags tuning the update engine
func engineFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "updates",
			Usage:       "Learn from new conversations (set false to freeze the profile)",
			Value:       true,
			Sources:     cli.EnvVars("LLM_MEMORY_UPDATES"),
			Destination: &cfg.updates,
		},
		&cli.StringFlag{
			Name:        "interval",
			Usage:       "Poll interval, in seconds or as a duration such as 30s",
			Sources:     cli.EnvVars("LLM_MEMORY_UPDATE_INTERVAL"),
			Destination: &cfg.interval,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory with Rego policies (package memory) filtering log entries",
			Sources:     cli.EnvVars("LLM_MEMORY_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.FloatFlag{
			Name:        "rate-limit",
			Usage:       "Maximum completion calls per second (0 for unlimited)",
			Value:       1,
			Sources:     cli.EnvVars("LLM_MEMORY_RATE_LIMIT"),
			Destination: &cfg.rateLimit,
		},
		&cli.DurationFlag{
			Name:        "completion-timeout",
			Usage:       "Timeout of one profile update completion",
			Value:       update.DefaultCompletionTimeout,
			Sources:     cli.EnvVars("LLM_MEMORY_COMPLETION_TIMEOUT"),
			Destination: &cfg.completionTimeout,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "Maximum log entries per update cycle",
			Value:       cursor.DefaultBatchSize,
			Sources:     cli.EnvVars("LLM_MEMORY_BATCH_SIZE"),
			Destination: &cfg.batchSize,
		},
	}
}

func (cfg *config) userDir() string {
	if cfg.userPath != "" {
		return cfg.userPath
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "io.datasette.llm")
}

func (cfg *config) memoryPath() string {
	if cfg.memoryDir != "" {
		return cfg.memoryDir
	}
	return filepath.Join(cfg.userDir(), "memory")
}

func (cfg *config) logDBPath() string {
	if cfg.logDB != "" {
		return cfg.logDB
	}
	return filepath.Join(cfg.userDir(), adapter.LogDatabaseFileName)
}

func (cfg *config) level() string {
	if cfg.debug {
		return "debug"
	}
	return cfg.logLevel
}

// setupLogger attaches a console logger writing to w to ctx
func (cfg *config) setupLogger(ctx context.Context, w io.Writer) context.Context {
	logger := logging.New(cfg.level(), w)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// setupFileLogger attaches a JSON logger writing to the diagnostic log file
func (cfg *config) setupFileLogger(ctx context.Context) (context.Context, io.Closer, error) {
	path := cfg.logFile
	if path == "" {
		path = filepath.Join(cfg.memoryPath(), "memory.log")
	}
	logger, closer, err := logging.OpenFile(cfg.level(), path)
	if err != nil {
		return ctx, nil, err
	}
	logging.SetDefault(logger)
	return logging.With(ctx, logger), closer, nil
}

// parseInterval accepts plain seconds ("5") or a Go duration ("1m30s")
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n <= 0 {
			return 0, goerr.New("interval must be positive", goerr.V("interval", s))
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid interval", goerr.V("interval", s))
	}
	if d <= 0 {
		return 0, goerr.New("interval must be positive", goerr.V("interval", s))
	}
	return d, nil
}

// newRepository creates the profile store backend
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, closers, error) {
	switch cfg.store {
	case "", "file":
		repo, err := repository.NewFile(cfg.memoryPath())
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil

	case "firestore":
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database,
			repository.WithFirestoreDocument(cfg.documentID))
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, closers{repo}, nil

	case "storage":
		repo, err := repository.NewCloudStorage(ctx, cfg.bucket, cfg.prefix)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, closers{repo}, nil

	default:
		return nil, nil, goerr.New("unknown profile store", goerr.V("store", cfg.store))
	}
}

// newStore wraps the configured repository in a Store
func (cfg *config) newStore(ctx context.Context) (*repository.Store, closers, error) {
	repo, c, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewStore(repo), c, nil
}

// newControl opens the control file next to the local profile
func (cfg *config) newControl() (*repository.ControlFile, error) {
	return repository.NewControlFile(cfg.memoryPath())
}

// newLogSource creates the interaction log reader
func (cfg *config) newLogSource(ctx context.Context) (adapter.LogSource, closers, error) {
	switch cfg.logSource {
	case "", "sqlite":
		path := cfg.logDBPath()
		if _, err := os.Stat(path); err != nil {
			return nil, nil, goerr.Wrap(err, "log database not found", goerr.V("path", path))
		}
		src, err := adapter.NewSQLiteLog(path)
		if err != nil {
			return nil, nil, err
		}
		return src, closers{src}, nil

	case "bigquery":
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required")
		}
		if cfg.bigqueryTable == "" {
			return nil, nil, goerr.New("bigquery-table is required")
		}
		src, err := adapter.NewBigQueryLog(ctx, cfg.project, cfg.bigqueryTable)
		if err != nil {
			return nil, nil, err
		}
		return src, closers{src}, nil

	default:
		return nil, nil, goerr.New("unknown log source", goerr.V("source", cfg.logSource))
	}
}

// newClaude creates a new Claude adapter instance
func (cfg *config) newClaude() (*adapter.ClaudeClient, error) {
	if cfg.anthropicAPIKey == "" {
		return nil, goerr.New("anthropic-api-key is required")
	}
	var opts []adapter.ClaudeOption
	if cfg.anthropicModel != "" {
		opts = append(opts, adapter.WithClaudeModel(cfg.anthropicModel))
	}
	return adapter.NewClaude(cfg.anthropicAPIKey, opts...)
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	var opts []adapter.GeminiOption
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newCompletion routes each entry to the backend of the model that produced
// it. At least one backend must be configured.
func (cfg *config) newCompletion(ctx context.Context) (adapter.Completion, error) {
	var (
		opts     []adapter.RouterOption
		backends = map[string]adapter.Completion{}
	)

	if cfg.geminiProject != "" {
		gemini, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		backends["gemini"] = gemini
		opts = append(opts, adapter.WithRoute("gemini", gemini))
	}
	if cfg.anthropicAPIKey != "" {
		claude, err := cfg.newClaude()
		if err != nil {
			return nil, err
		}
		backends["claude"] = claude
		opts = append(opts, adapter.WithRoute("claude", claude))
	}

	if len(backends) == 0 {
		return nil, goerr.New("no completion backend configured: set gemini-project or anthropic-api-key")
	}

	fallback, ok := backends[cfg.defaultBackend]
	if !ok {
		for _, b := range backends {
			fallback = b
		}
	}
	return adapter.NewRouter(fallback, opts...), nil
}

// newEngine wires the update engine from configuration
func (cfg *config) newEngine(ctx context.Context, store *repository.Store, control *repository.ControlFile, m *metrics.Metrics) (*update.Engine, closers, error) {
	src, c, err := cfg.newLogSource(ctx)
	if err != nil {
		return nil, nil, err
	}

	completion, err := cfg.newCompletion(ctx)
	if err != nil {
		c.Close()
		return nil, nil, err
	}

	p, err := policy.Load(ctx, cfg.policyDir)
	if err != nil {
		c.Close()
		return nil, nil, err
	}

	limit := rate.Inf
	if cfg.rateLimit > 0 {
		limit = rate.Limit(cfg.rateLimit)
	}

	reader := cursor.New(src, cursor.WithBatchSize(int(cfg.batchSize)))
	engine := update.New(store, reader, completion,
		update.WithControl(control),
		update.WithPolicy(p),
		update.WithMetrics(m),
		update.WithRateLimit(limit, 1),
		update.WithCompletionTimeout(cfg.completionTimeout),
		update.WithUpdatesDisabled(!cfg.updates),
	)
	return engine, c, nil
}

// logger is a shorthand used by commands
func logger(ctx context.Context) *slog.Logger {
	return logging.From(ctx)
}
