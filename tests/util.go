package testutil

import (
	"context"
	"fmt"
	"net/mail"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/moderation"
)

// NewConfig returns a TEST config that does not depend on the environment.
func NewConfig() *core.Config {
	return &core.Config{
		AppName:          "Kinga",
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		SecretKey:        "test-secret",
		DefaultFromEmail: mail.Address{Name: "Kinga", Address: "noreply@kinga.test"},
		FrontendBaseURL:  "http://kinga.test",
		Server: core.ServerConfig{
			Host:               "localhost",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
		},
		AI: core.AIConfig{
			Provider:           "console",
			ClassifierTimeout:  200 * time.Millisecond,
			ReplyTimeout:       200 * time.Millisecond,
			ReplyMaxWords:      50,
			BreakerMaxFailures: 3,
			BreakerOpenTimeout: time.Minute,
		},
		Moderation: core.ModerationConfig{
			CategoryReviewThreshold: 0.85,
			ModeratorEmails:         []mail.Address{{Name: "Mod", Address: "mod@kinga.test"}},
		},
	}
}

// NewValidator returns a validator set up like the API does.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	moderation.InitValidators(validate, translator)
	return validate, translator
}

type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records every entry in memory.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]LogEntry, 0)
	for _, e := range l.entries {
		if e.Level == level {
			entries = append(entries, e)
		}
	}
	return entries
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { panic(fmt.Sprintf("fatal: %s %v", msg, args)) }

// StaticClassifier always answers cls.
func StaticClassifier(cls moderation.Classification) moderation.ClassifierFunc {
	return func(context.Context, string) (moderation.Classification, error) { return cls, nil }
}

// AdminAuthorizer lets only the given actors resolve flags.
func AdminAuthorizer(admins ...string) moderation.AuthorizerFunc {
	return func(_ context.Context, actorID string) (bool, error) {
		for _, a := range admins {
			if a == actorID {
				return true, nil
			}
		}
		return false, nil
	}
}

func CreateFlag(
	t *testing.T,
	repo moderation.Repository,
	verdict moderation.Verdict,
	status moderation.FlagStatus,
	createdAt ...time.Time,
) moderation.Flag {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	flag := moderation.Flag{
		ID:         uuid.NewString(),
		Verdict:    verdict,
		Categories: map[string]float64{"insult": 0.5},
		Score:      0.5,
		Action:     moderation.ActionFor(verdict),
		Status:     status,
		CreatedAt:  tstamp,
	}
	if status == moderation.FlagResolved {
		flag.Decision = moderation.DecisionUphold
		flag.ResolvedBy = "admin"
		flag.ResolvedAt = tstamp
	}
	flag, err := repo.CreateFlag(context.Background(), flag)
	if err != nil {
		t.Fatalf("CreateFlag() failed: %v", err)
	}
	return flag
}

func CreateAppeal(t *testing.T, repo moderation.Repository, userID, flagID string, createdAt ...time.Time) moderation.Appeal {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	appeal, err := repo.CreateAppeal(context.Background(), moderation.Appeal{
		ID:        uuid.NewString(),
		UserID:    userID,
		FlagID:    flagID,
		Status:    moderation.AppealPending,
		CreatedAt: tstamp,
	})
	if err != nil {
		t.Fatalf("CreateAppeal() failed: %v", err)
	}
	return appeal
}
