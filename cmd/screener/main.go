package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/config"
	"github.com/stroke-trial-screener/internal/database"
	"github.com/stroke-trial-screener/internal/domain"
	"github.com/stroke-trial-screener/internal/engine"
	"github.com/stroke-trial-screener/internal/ingest"
	"github.com/stroke-trial-screener/internal/report"
	"github.com/stroke-trial-screener/internal/results"
	"github.com/stroke-trial-screener/pkg/modelscore"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			log.Fatalf("init failed: %v", err)
		}
		return
	}

	var (
		studyPath      = flag.String("study", "", "study criteria YAML; the documented defaults apply when empty")
		admissionsPath = flag.String("admissions", "", "admissions CSV path")
		diagnosesPath  = flag.String("diagnoses", "", "diagnosis codes CSV path")
		scoresPath     = flag.String("scores", "", "optional model score CSV path")
		fromWarehouse  = flag.Bool("warehouse", false, "read admissions from the PostgreSQL warehouse instead of CSV files")
		outDir         = flag.String("out", "", "report output directory (overrides configuration)")
		save           = flag.Bool("save", false, "persist the run to the results store")
	)
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, options{
		studyPath:      *studyPath,
		admissionsPath: *admissionsPath,
		diagnosesPath:  *diagnosesPath,
		scoresPath:     *scoresPath,
		fromWarehouse:  *fromWarehouse,
		outDir:         *outDir,
		save:           *save,
	}); err != nil {
		logger.WithField("error", err).Fatal("Screening run failed")
	}
}

type options struct {
	studyPath      string
	admissionsPath string
	diagnosesPath  string
	scoresPath     string
	fromWarehouse  bool
	outDir         string
	save           bool
}

func run(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts options) error {
	studyCfg := domain.DefaultStudyConfig()
	if opts.studyPath != "" {
		loaded, err := config.LoadStudy(opts.studyPath)
		if err != nil {
			return fmt.Errorf("loading study criteria: %w", err)
		}
		studyCfg = loaded
	}

	admissions, err := loadAdmissions(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}

	scores, err := loadScores(ctx, cfg, studyCfg, logger, opts, admissions)
	if err != nil {
		return err
	}

	eng, err := engine.New(logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	result, err := eng.Run(ctx, engine.Request{
		Config:     studyCfg,
		Admissions: admissions,
		Scores:     scores,
	})
	if err != nil {
		return fmt.Errorf("executing run: %w", err)
	}

	dir := cfg.Output.Dir
	if opts.outDir != "" {
		dir = opts.outDir
	}
	runDir := filepath.Join(dir, result.RunID)
	if err := report.NewWriter(logger).Write(runDir, result); err != nil {
		return fmt.Errorf("writing reports: %w", err)
	}

	if opts.save {
		store, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveRun(ctx, result, studyCfg); err != nil {
			return fmt.Errorf("persisting run: %w", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"run_id":     result.RunID,
		"evaluated":  result.Summary.TotalEvaluated,
		"included":   result.Summary.TotalIncluded,
		"report_dir": runDir,
	}).Info("Screening run completed")

	return nil
}

// loadAdmissions reads the admission batch from CSV files or the warehouse.
func loadAdmissions(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts options) ([]domain.Admission, error) {
	if opts.fromWarehouse {
		db, err := database.NewConnection(ctx, warehouseConfig(cfg.Database), logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to warehouse: %w", err)
		}
		defer db.Close()
		return ingest.NewPostgresSource(db.Pool, logger).Load(ctx)
	}

	if opts.admissionsPath == "" || opts.diagnosesPath == "" {
		return nil, fmt.Errorf("-admissions and -diagnoses are required unless -warehouse is set")
	}
	return ingest.NewCSVSource(logger).Load(opts.admissionsPath, opts.diagnosesPath)
}

// loadScores materializes model scores before evaluation starts, from a score
// file when one is given, otherwise from the score service when the study
// enables blending.
func loadScores(ctx context.Context, cfg *domain.Config, studyCfg *domain.StudyConfig, logger *logrus.Logger, opts options, admissions []domain.Admission) (map[string]float64, error) {
	if opts.scoresPath != "" {
		return ingest.NewCSVSource(logger).LoadScores(opts.scoresPath)
	}
	if !studyCfg.MLScoring.Enabled || !cfg.ScoreService.Enabled {
		return nil, nil
	}

	resolver, err := newScoreResolver(cfg.ScoreService, logger)
	if err != nil {
		return nil, err
	}

	hadmIDs := make([]string, 0, len(admissions))
	for _, adm := range admissions {
		hadmIDs = append(hadmIDs, adm.HadmID)
	}
	return resolver.Resolve(ctx, hadmIDs)
}

func newScoreResolver(cfg domain.ScoreServiceConfig, logger *logrus.Logger) (*modelscore.Resolver, error) {
	client := modelscore.NewClient(modelscore.ClientConfig{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
	})

	var redisCache *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing score service redis URL: %w", err)
		}
		redisCache = redis.NewClient(redisOpts)
	}

	return modelscore.NewResolver(client, redisCache, modelscore.ResolverConfig{
		MemorySize: cfg.MemorySize,
		RedisTTL:   cfg.CacheTTL,
	}, logger)
}

func openStore(cfg *domain.Config, logger *logrus.Logger) (results.Store, error) {
	switch cfg.Results.Backend {
	case "postgres":
		return results.NewPostgresStoreFromURL(cfg.Results.PostgresURL)
	default:
		return results.NewSQLiteStore(cfg.Results.SQLitePath)
	}
}

func warehouseConfig(db domain.DatabaseConfig) database.Config {
	return database.Config{
		Host:        db.Host,
		Port:        db.Port,
		Database:    db.Database,
		Username:    db.Username,
		Password:    db.Password,
		MaxConns:    int32(db.MaxOpenConns),
		MinConns:    int32(db.MaxIdleConns),
		MaxConnLife: db.ConnMaxLifetime,
		SSLMode:     db.SSLMode,
	}
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
