package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/kinga/apps/api/echo"
	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/autoreply"
	"github.com/trezcool/kinga/core/moderation"
	"github.com/trezcool/kinga/services/email"
	"github.com/trezcool/kinga/storage/database/inmem"
	"github.com/trezcool/kinga/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	server  *Server
	conf    *core.Config
	repo    moderation.Repository
	logger  *testutil.Logger
	mailSvc *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T, cls moderation.Classifier, replier autoreply.Replier) testApp {
	t.Helper()
	conf := testutil.NewConfig()
	validate, translator := testutil.NewValidator()
	logger := new(testutil.Logger)
	repo := inmemdb.NewModerationRepository(inmemdb.Open())
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	modSvc := moderation.NewService(moderation.Deps{
		Conf:       conf,
		Repo:       repo,
		Classifier: cls,
		Authorizer: ClaimsAuthorizer,
		Logger:     logger,
		Validate:   validate,
		MailSvc:    mailSvc,
	})
	replySvc := autoreply.NewService(conf, replier, logger, validate)

	server := NewServer(Deps{
		Conf:          conf,
		Logger:        logger,
		ModerationSvc: modSvc,
		AutoReplySvc:  replySvc,
		Translator:    translator,
	})
	return testApp{server: server, conf: conf, repo: repo, logger: logger, mailSvc: mailSvc}
}

func (app testApp) token(t *testing.T, userID string, isAdmin bool) string {
	t.Helper()
	token, err := GenerateToken(app.conf, NewClaims(app.conf, userID, userID+"@kinga.test", isAdmin))
	if err != nil {
		t.Fatalf("token() failed: %v", err)
	}
	return token
}

func (app testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}

func runHTTPTests(t *testing.T, app testApp, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rec := app.do(newAuthRequest(method, tt.path, tt.token, tt.body))
			checkCodeAndData(t, tt, rec)
		})
	}
}
