package moderation

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"

	"github.com/trezcool/kinga/core"
)

type (
	// Repository is the persistence boundary for Flags and Appeals.
	Repository interface {
		CreateFlag(ctx context.Context, flag Flag) (Flag, error)
		// GetFlag returns ErrFlagNotFound when there is no flag with this id.
		GetFlag(ctx context.Context, id string) (Flag, error)
		QueryFlags(ctx context.Context, filter FlagFilter, ordering ...core.DBOrdering) ([]Flag, error)
		// ResolveFlag stores the resolution of a flag that is still open.
		// It returns ErrFlagResolved when the flag was resolved in the meantime.
		ResolveFlag(ctx context.Context, flag Flag) (Flag, error)
		CreateAppeal(ctx context.Context, appeal Appeal) (Appeal, error)
		// QueryAppeals returns matching appeals, oldest first.
		QueryAppeals(ctx context.Context, filter AppealFilter) ([]Appeal, error)
		// ResolveAppeal moves a pending appeal to its final status.
		// It reports false when the appeal had already left pending.
		ResolveAppeal(ctx context.Context, appeal Appeal) (bool, error)
		DeleteAppealsByID(ctx context.Context, ids ...string) error
	}

	// Classifier is the external AI capability: text in, structured verdict out.
	// Implementations wrap ErrMalformedVerdict when the answer cannot be understood.
	Classifier interface {
		Classify(ctx context.Context, text string) (Classification, error)
	}

	// Authorizer decides who may act on the Review Queue.
	Authorizer interface {
		CanResolve(ctx context.Context, actorID string) (bool, error)
	}

	// AppealGuard is an advisory lock taken before the duplicate appeal check.
	// Acquire returns false when the pair is already locked.
	AppealGuard interface {
		Acquire(ctx context.Context, userID, flagID string) (bool, error)
		Release(ctx context.Context, userID, flagID string) error
	}
)

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, text string) (Classification, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (Classification, error) {
	return f(ctx, text)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, actorID string) (bool, error)

func (f AuthorizerFunc) CanResolve(ctx context.Context, actorID string) (bool, error) {
	return f(ctx, actorID)
}

type Deps struct {
	Conf       *core.Config
	Repo       Repository
	Classifier Classifier
	Authorizer Authorizer
	Logger     core.Logger
	Validate   *validator.Validate

	// optional
	Guard   AppealGuard
	MailSvc core.EmailService
	NowFunc func() time.Time
}

type Service struct {
	conf       *core.Config
	repo       Repository
	classifier Classifier
	authz      Authorizer
	guard      AppealGuard
	mailSvc    core.EmailService
	logger     core.Logger
	validate   *validator.Validate
	now        func() time.Time
	newID      func() string
}

// NewService panics when a required dependency is missing.
// deps.Validate must have been set up with core.InitValidators.
func NewService(deps Deps) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Conf, "Conf"),
		vala.IsNotNil(deps.Repo, "Repo"),
		vala.IsNotNil(deps.Classifier, "Classifier"),
		vala.IsNotNil(deps.Authorizer, "Authorizer"),
		vala.IsNotNil(deps.Logger, "Logger"),
		vala.IsNotNil(deps.Validate, "Validate"),
	).CheckAndPanic()

	_ = deps.Validate.RegisterValidation(decisionTag, decisionValidation)

	now := deps.NowFunc
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		conf:       deps.Conf,
		repo:       deps.Repo,
		classifier: deps.Classifier,
		authz:      deps.Authorizer,
		guard:      deps.Guard,
		mailSvc:    deps.MailSvc,
		logger:     deps.Logger,
		validate:   deps.Validate,
		now:        now,
		newID:      uuid.NewString,
	}
}

func (svc *Service) GetFlag(ctx context.Context, id string) (Flag, error) {
	id = core.CleanString(id)
	if id == "" {
		return Flag{}, ErrFlagNotFound
	}
	return svc.repo.GetFlag(ctx, id)
}

func (svc *Service) QueryAppeals(ctx context.Context, filter AppealFilter) ([]Appeal, error) {
	filter.UserID = core.CleanString(filter.UserID)
	filter.FlagID = core.CleanString(filter.FlagID)
	if err := svc.validate.Struct(filter); err != nil {
		return nil, err
	}
	return svc.repo.QueryAppeals(ctx, filter)
}
