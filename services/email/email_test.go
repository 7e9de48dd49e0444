package emailsvc

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"testing"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/tests"
)

func newMessage() *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: "Mod", Address: "mod@kinga.test"}},
		Cc:           []mail.Address{{Address: "lead@kinga.test"}},
		Subject:      "New appeal",
		TemplateName: "appeal_filed",
		TemplateData: map[string]string{"FlagID": "f1", "AppealID": "a1", "UserID": "u1", "Reason": "not rude"},
	}
}

func TestConsoleServiceMock(t *testing.T) {
	logger := new(testutil.Logger)
	svc := NewConsoleServiceMock(testutil.NewConfig(), logger)

	svc.SendMessages(newMessage(), &core.EmailMessage{Subject: "no recipients", BodyStr: "hi"})

	sent := svc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "New appeal", sent[0].Subject)
	assert.Contains(t, sent[0].TextContent, "http://kinga.test/admin/moderation/flags/f1")
	assert.Empty(t, logger.Entries("info"))
	assert.Empty(t, logger.Entries("error"))
}

func TestConsoleService_format(t *testing.T) {
	svc := NewConsoleService(testutil.NewConfig(), new(testutil.Logger))
	msg := newMessage()
	require.NoError(t, msg.Render(svc.frontendBaseURL))

	body, err := svc.format(*msg)
	require.NoError(t, err)
	assert.Contains(t, body, "Subject: [Kinga] New appeal\r\n")
	assert.Contains(t, body, `To: "Mod" <mod@kinga.test>`)
	assert.Contains(t, body, "CC: <lead@kinga.test>")
	assert.Contains(t, body, "text/html; charset=utf-8")
}

func TestSendgridService(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		apiErr    error
		wantError bool
	}{
		{name: "accepted", status: http.StatusAccepted},
		{name: "rejected", status: http.StatusBadRequest, wantError: true},
		{name: "transport error", apiErr: errors.New("connection refused"), wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := new(testutil.Logger)
			svc := NewSendgridService(testutil.NewConfig(), logger)

			var body map[string]interface{}
			svc.api = func(req rest.Request) (*rest.Response, error) {
				require.Equal(t, rest.Post, req.Method)
				require.NoError(t, json.Unmarshal(req.Body, &body))
				if tt.apiErr != nil {
					return nil, tt.apiErr
				}
				return &rest.Response{StatusCode: tt.status, Body: "{}"}, nil
			}

			svc.sendMessage(newMessage())

			require.NotNil(t, body)
			pers := body["personalizations"].([]interface{})[0].(map[string]interface{})
			assert.Equal(t, "[Kinga] New appeal", pers["subject"])
			assert.Len(t, body["content"], 2)
			if tt.wantError {
				assert.Len(t, logger.Entries("error"), 1)
			} else {
				assert.Empty(t, logger.Entries("error"))
			}
		})
	}
}
