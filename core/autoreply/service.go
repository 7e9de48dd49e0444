package autoreply

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trezcool/kinga/core"
)

// replies at least this similar to the user's text are rejected as echoes
const maxEchoRatio = 0.9

var replies = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kinga_autoreply_total",
	Help: "Auto-reply generations by outcome.",
}, []string{"outcome"})

// ConversationContext is the ephemeral input of a reply generation.
type ConversationContext struct {
	Text        string `json:"text" validate:"required,notblank"`
	FromUID     string `json:"from_uid" validate:"required,notblank"`
	ChatID      string `json:"chat_id" validate:"required,notblank"`
	FormationID string `json:"formation_id" validate:"required,notblank"`
}

func (cc *ConversationContext) Clean() {
	cc.Text = core.CleanString(cc.Text)
	cc.FromUID = core.CleanString(cc.FromUID)
	cc.ChatID = core.CleanString(cc.ChatID)
	cc.FormationID = core.CleanString(cc.FormationID)
}

// Replier is the external AI capability that drafts a reply.
type Replier interface {
	Reply(ctx context.Context, cc ConversationContext) (string, error)
}

// ReplierFunc adapts a function to the Replier interface.
type ReplierFunc func(ctx context.Context, cc ConversationContext) (string, error)

func (f ReplierFunc) Reply(ctx context.Context, cc ConversationContext) (string, error) {
	return f(ctx, cc)
}

type GenerationError struct {
	Reason string
	Err    error
}

func (err *GenerationError) Error() string {
	if err.Err == nil {
		return "generating reply: " + err.Reason
	}
	return "generating reply: " + err.Reason + ": " + err.Err.Error()
}

func (err *GenerationError) Unwrap() error { return err.Err }

func IsGenerationError(err error) bool {
	var gErr *GenerationError
	return errors.As(err, &gErr)
}

type Service struct {
	conf     *core.Config
	replier  Replier
	logger   core.Logger
	validate *validator.Validate
}

func NewService(conf *core.Config, replier Replier, logger core.Logger, validate *validator.Validate) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(conf, "conf"),
		vala.IsNotNil(replier, "replier"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(validate, "validate"),
	).CheckAndPanic()
	return &Service{conf: conf, replier: replier, logger: logger, validate: validate}
}

// GenerateReply drafts a short reply for a conversation where no human is available.
// The reply never exceeds the configured word ceiling.
func (svc *Service) GenerateReply(ctx context.Context, cc ConversationContext) (string, error) {
	cc.Clean()
	if err := svc.validate.Struct(cc); err != nil {
		return "", err
	}

	rctx, cancel := context.WithTimeout(ctx, svc.conf.AI.ReplyTimeout)
	defer cancel()

	reply, err := svc.replier.Reply(rctx, cc)
	if err != nil {
		replies.WithLabelValues("error").Inc()
		return "", &GenerationError{Reason: "reply unavailable", Err: err}
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		replies.WithLabelValues("empty").Inc()
		return "", &GenerationError{Reason: "empty reply"}
	}
	if isEcho(cc.Text, reply) {
		replies.WithLabelValues("echo").Inc()
		svc.logger.Warn("auto-reply echoed the user's text", map[string]interface{}{
			"chat_id":      cc.ChatID,
			"formation_id": cc.FormationID,
		}, core.Person{ID: cc.FromUID})
		return "", &GenerationError{Reason: "reply repeats the message"}
	}

	replies.WithLabelValues("ok").Inc()
	return truncateWords(reply, svc.conf.AI.ReplyMaxWords), nil
}

// isEcho compares both texts word by word, ignoring case.
func isEcho(text, reply string) bool {
	a := strings.Fields(strings.ToLower(text))
	b := strings.Fields(strings.ToLower(reply))
	return difflib.NewMatcher(a, b).Ratio() >= maxEchoRatio
}

// truncateWords cuts s after max words. max <= 0 means no limit.
func truncateWords(s string, max int) string {
	if max <= 0 {
		return s
	}
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ")
}
