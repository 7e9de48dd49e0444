package moderation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/goleak"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/moderation"
	"github.com/trezcool/kinga/storage/database/inmem"
	"github.com/trezcool/kinga/tests"
)

const adminID = "admin-1"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	svc     *moderation.Service
	repo    *faultyRepo
	logger  *testutil.Logger
	mailSvc *recordingMailer
	conf    *core.Config
	calls   *int32
}

// setup builds a Service over an in-memory repository. cls is wrapped to count calls.
func setup(t *testing.T, cls moderation.Classifier, modify ...func(*moderation.Deps)) fixture {
	t.Helper()
	conf := testutil.NewConfig()
	validate, _ := testutil.NewValidator()
	repo := &faultyRepo{Repository: inmemdb.NewModerationRepository(inmemdb.Open())}
	logger := new(testutil.Logger)
	mailSvc := new(recordingMailer)

	var calls int32
	counted := moderation.ClassifierFunc(func(ctx context.Context, text string) (moderation.Classification, error) {
		atomic.AddInt32(&calls, 1)
		return cls.Classify(ctx, text)
	})

	deps := moderation.Deps{
		Conf:       conf,
		Repo:       repo,
		Classifier: counted,
		Authorizer: testutil.AdminAuthorizer(adminID),
		Logger:     logger,
		Validate:   validate,
		MailSvc:    mailSvc,
	}
	for _, fn := range modify {
		fn(&deps)
	}
	return fixture{
		svc:     moderation.NewService(deps),
		repo:    repo,
		logger:  logger,
		mailSvc: mailSvc,
		conf:    conf,
		calls:   &calls,
	}
}

var errStore = errors.New("store unavailable")

// faultyRepo fails the selected operations.
type faultyRepo struct {
	moderation.Repository

	failCreateFlag    bool
	failCreateAppeal  bool
	failResolveAppeal bool
	failResolveFlag   bool

	// afterGetFlag, when set, runs once after the next GetFlag
	afterGetFlag func()
}

func (r *faultyRepo) GetFlag(ctx context.Context, id string) (moderation.Flag, error) {
	flag, err := r.Repository.GetFlag(ctx, id)
	if hook := r.afterGetFlag; hook != nil {
		r.afterGetFlag = nil
		hook()
	}
	return flag, err
}

func (r *faultyRepo) CreateFlag(ctx context.Context, flag moderation.Flag) (moderation.Flag, error) {
	if r.failCreateFlag {
		return moderation.Flag{}, errStore
	}
	return r.Repository.CreateFlag(ctx, flag)
}

func (r *faultyRepo) CreateAppeal(ctx context.Context, appeal moderation.Appeal) (moderation.Appeal, error) {
	if r.failCreateAppeal {
		return moderation.Appeal{}, errStore
	}
	return r.Repository.CreateAppeal(ctx, appeal)
}

func (r *faultyRepo) ResolveAppeal(ctx context.Context, appeal moderation.Appeal) (bool, error) {
	if r.failResolveAppeal {
		return false, errStore
	}
	return r.Repository.ResolveAppeal(ctx, appeal)
}

func (r *faultyRepo) ResolveFlag(ctx context.Context, flag moderation.Flag) (moderation.Flag, error) {
	if r.failResolveFlag {
		return moderation.Flag{}, errStore
	}
	return r.Repository.ResolveFlag(ctx, flag)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *recordingMailer) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, messages...)
}

func (m *recordingMailer) Sent() []*core.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*core.EmailMessage(nil), m.sent...)
}

// fakeGuard is an in-process AppealGuard.
type fakeGuard struct {
	mu     sync.Mutex
	held   map[string]bool
	err    error
	unlock int
}

func (g *fakeGuard) Acquire(_ context.Context, userID, flagID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.held == nil {
		g.held = make(map[string]bool)
	}
	key := userID + ":" + flagID
	if g.held[key] {
		return false, nil
	}
	g.held[key] = true
	return true, nil
}

func (g *fakeGuard) Release(_ context.Context, userID, flagID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, userID+":"+flagID)
	g.unlock++
	return nil
}

func ago(d time.Duration) time.Time { return time.Now().UTC().Add(-d) }
