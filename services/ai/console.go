package aisvc

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/autoreply"
	"github.com/trezcool/kinga/core/moderation"
)

// keyword lists of the offline classifier, by category
var (
	blockedWords = map[string][]string{
		"insult":     {"stupide", "idiot", "imbecile", "imbécile", "débile", "stupid", "moron", "dumb"},
		"threat":     {"tuer", "kill", "frapper"},
		"harassment": {"dégage", "casse-toi", "loser"},
	}
	reviewWords = map[string][]string{
		"toxicity": {"nul", "nulle", "naze", "useless", "shut"},
		"spam":     {"http://", "https://", "promo", "gratuit", "free"},
	}
)

// Console classifies with keyword lists and answers with canned replies.
// It needs no network and is used in DEV and in tests.
type Console struct {
	logger  core.Logger
	verbose bool
}

var (
	_ moderation.Classifier = (*Console)(nil)
	_ autoreply.Replier     = (*Console)(nil)
)

func NewConsole(conf *core.Config, logger core.Logger) *Console {
	return &Console{logger: logger, verbose: conf.Debug && !conf.TestMode}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '-' && r != ':' && r != '/')
	})
}

func (c *Console) Classify(ctx context.Context, text string) (moderation.Classification, error) {
	if err := ctx.Err(); err != nil {
		return moderation.Classification{}, err
	}

	words := tokenize(text)
	cls := moderation.Classification{
		Verdict:    moderation.VerdictAllowed,
		Categories: make(map[string]float64),
	}
	hits := func(lists map[string][]string, score float64) bool {
		var hit bool
		for cat, list := range lists {
			for _, kw := range list {
				for _, w := range words {
					if w == kw || (strings.Contains(kw, "/") && strings.HasPrefix(w, kw)) {
						cls.Categories[cat] = score
						hit = true
					}
				}
			}
		}
		return hit
	}

	switch {
	case hits(blockedWords, 0.92):
		cls.Verdict, cls.Score = moderation.VerdictBlocked, 0.92
	case hits(reviewWords, 0.6):
		cls.Verdict, cls.Score = moderation.VerdictReview, 0.6
	default:
		cls.Score = 0.05
	}
	cls.Action = moderation.ActionFor(cls.Verdict)

	if c.verbose {
		c.logger.Debug(fmt.Sprintf("console classifier: %s (%.2f)", cls.Verdict, cls.Score))
	}
	return cls, nil
}

func (c *Console) Reply(ctx context.Context, cc autoreply.ConversationContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.HasSuffix(strings.TrimSpace(cc.Text), "?") {
		return "Merci pour votre question ! Un formateur vous répondra dès que possible. " +
			"En attendant, consultez les ressources du module dans votre espace de formation.", nil
	}
	return "Merci pour votre message ! Un formateur reviendra vers vous très bientôt.", nil
}
