package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	echoapi "github.com/trezcool/kinga/apps/api/echo"
	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/autoreply"
	"github.com/trezcool/kinga/core/moderation"
	aisvc "github.com/trezcool/kinga/services/ai"
	emailsvc "github.com/trezcool/kinga/services/email"
	logsvc "github.com/trezcool/kinga/services/logger"
	"github.com/trezcool/kinga/storage/database"
	inmemdb "github.com/trezcool/kinga/storage/database/inmem"
	sqlxrepos "github.com/trezcool/kinga/storage/database/sqlx"
	redisstore "github.com/trezcool/kinga/storage/redis"
)

type (
	classifierReplier interface {
		moderation.Classifier
		autoreply.Replier
	}

	storage struct {
		repo  moderation.Repository
		close func() error
	}
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	std, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatalf("setting up zap: %v", err)
	}
	logger := logsvc.NewRollbarLogger(std.Named("api"), conf)
	logger.Enable(conf.RollbarToken != "" && !conf.Debug)
	defer logger.Close()

	dbLogger := logsvc.NewRollbarLogger(std.Named("db"), conf)

	ctx := context.Background()

	// set up storage
	store, err := setUpStorage(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	defer func() {
		if err = store.close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	var guard moderation.AppealGuard
	rdb, err := redisstore.Open(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up redis: %v", err), err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		guard = redisstore.NewAppealGuard(rdb, conf.Redis.AppealLockTTL)
	}

	// set up services
	var ai classifierReplier
	switch conf.AI.Provider {
	case "openai":
		ai = aisvc.NewOpenAI(conf, logger)
	default:
		ai = aisvc.NewConsole(conf, logger)
	}

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	moderation.InitValidators(validate, translator)

	modSvc := moderation.NewService(moderation.Deps{
		Conf:       conf,
		Repo:       store.repo,
		Classifier: ai,
		Authorizer: echoapi.ClaimsAuthorizer,
		Logger:     logger,
		Validate:   validate,
		Guard:      guard,
		MailSvc:    mailSvc,
	})
	replySvc := autoreply.NewService(conf, ai, logger, validate)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus metrics.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("ai.provider").Set(conf.AI.Provider)
	http.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.Deps{
		Conf:          conf,
		Logger:        logger,
		ModerationSvc: modSvc,
		AutoReplySvc:  replySvc,
		Translator:    translator,
	})

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// setUpStorage opens postgres (creating & migrating it when needed), or the in-memory store
// when database.engine is "inmem".
func setUpStorage(ctx context.Context, conf *core.Config) (storage, error) {
	if conf.Database.Engine == "inmem" {
		return storage{
			repo:  inmemdb.NewModerationRepository(inmemdb.Open()),
			close: func() error { return nil },
		}, nil
	}

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return storage{}, err
	}

	db, err := database.Open(ctx, conf)
	if err != nil {
		return storage{}, err
	}

	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return storage{}, err
	}
	return storage{repo: sqlxrepos.NewModerationRepository(db), close: db.Close}, nil
}
