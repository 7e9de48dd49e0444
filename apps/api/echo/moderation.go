package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kinga/core/autoreply"
	"github.com/trezcool/kinga/core/moderation"
)

type moderationApi struct {
	svc *moderation.Service
}

func registerModerationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *moderation.Service) {
	api := moderationApi{svc: svc}

	// called by the platform before publishing content
	g.POST("/moderate", api.moderate)

	// authed endpoints
	g.POST("/appeals", api.fileAppeal, jwt)

	ag := g.Group("/admin", jwt, adminMiddleware)
	ag.POST("/resolve", api.resolve)
	ag.GET("/flags", api.queryFlags)
	ag.GET("/flags/:id", api.retrieveFlag)
	ag.POST("/flags/:id/collapse-appeals", api.collapseAppeals)
}

// Handlers

func (api *moderationApi) moderate(ctx echo.Context) error {
	var data moderation.NewContent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewContent")
	}

	res, err := api.svc.Moderate(requestContext(ctx), data)
	if err != nil {
		return errors.Wrap(err, "moderating content")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *moderationApi) fileAppeal(ctx echo.Context) error {
	var data moderation.NewAppeal
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAppeal")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	data.UserID = claims.Subject

	appeal, err := api.svc.FileAppeal(requestContext(ctx), data)
	if err != nil {
		return errors.Wrap(err, "filing appeal")
	}
	return ctx.JSON(http.StatusCreated, AppealResponse{AppealID: appeal.ID, Status: appeal.Status})
}

func (api *moderationApi) resolve(ctx echo.Context) error {
	var data moderation.ResolveFlag
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResolveFlag")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	data.ActorID = claims.Subject

	res, err := api.svc.Resolve(requestContext(ctx), data)
	if err != nil {
		return errors.Wrap(err, "resolving flag")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *moderationApi) queryFlags(ctx echo.Context) error {
	filter, ordering, err := bindFlagQuery(ctx)
	if err != nil {
		return err
	}

	flags, err := api.svc.QueryFlags(requestContext(ctx), filter, ordering...)
	if err != nil {
		return errors.Wrap(err, "querying flags")
	}
	if flags == nil {
		flags = []moderation.Flag{}
	}
	return ctx.JSON(http.StatusOK, flags)
}

func (api *moderationApi) retrieveFlag(ctx echo.Context) error {
	rctx := requestContext(ctx)
	flag, err := api.svc.GetFlag(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding flag by ID")
	}
	appeals, err := api.svc.QueryAppeals(rctx, moderation.AppealFilter{FlagID: flag.ID})
	if err != nil {
		return errors.Wrap(err, "querying appeals")
	}
	if appeals == nil {
		appeals = []moderation.Appeal{}
	}
	return ctx.JSON(http.StatusOK, FlagDetail{Flag: flag, Visibility: flag.Visibility(), Appeals: appeals})
}

func (api *moderationApi) collapseAppeals(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	deleted, err := api.svc.CollapseDuplicateAppeals(requestContext(ctx), claims.Subject, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "collapsing duplicate appeals")
	}
	return ctx.JSON(http.StatusOK, CollapseResponse{Deleted: deleted})
}

type autoReplyApi struct {
	svc *autoreply.Service
}

func registerAutoReplyAPI(g *echo.Group, svc *autoreply.Service) {
	api := autoReplyApi{svc: svc}
	g.POST("/auto-reply", api.generate)
}

func (api *autoReplyApi) generate(ctx echo.Context) error {
	var data autoreply.ConversationContext
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ConversationContext")
	}

	reply, err := api.svc.GenerateReply(requestContext(ctx), data)
	if err != nil {
		return errors.Wrap(err, "generating reply")
	}
	return ctx.JSON(http.StatusOK, ReplyResponse{Reply: reply})
}

type (
	AppealResponse struct {
		AppealID string                  `json:"appeal_id"`
		Status   moderation.AppealStatus `json:"status"`
	}

	FlagDetail struct {
		moderation.Flag
		Visibility moderation.Visibility `json:"visibility"`
		Appeals    []moderation.Appeal   `json:"appeals"`
	}

	CollapseResponse struct {
		Deleted int `json:"deleted"`
	}

	ReplyResponse struct {
		Reply string `json:"reply"`
	}
)
