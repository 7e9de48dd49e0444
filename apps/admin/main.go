package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/moderation"
	aisvc "github.com/trezcool/kinga/services/ai"
	logsvc "github.com/trezcool/kinga/services/logger"
	"github.com/trezcool/kinga/storage/database"
	sqlxrepos "github.com/trezcool/kinga/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	std, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatalf("setting up zap: %v", err)
	}
	logger := logsvc.NewRollbarLogger(std.Named("admin"), conf)
	logger.Enable(false)

	// set up DB
	db, err := database.Open(context.Background(), conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	moderation.InitValidators(validate, translator)

	// start CLI
	cli := commandLine{
		conf: conf,
		db:   db.DB,
		svc: moderation.NewService(moderation.Deps{
			Conf:       conf,
			Repo:       sqlxrepos.NewModerationRepository(db),
			Classifier: aisvc.NewConsole(conf, logger),
			Authorizer: operatorAuthorizer,
			Logger:     logger,
			Validate:   validate,
		}),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	logger.Close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
