package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/yakoovad/taskcrew/internal/model"
	"github.com/yakoovad/taskcrew/internal/service"
	"github.com/yakoovad/taskcrew/pkg/logger"
	"go.uber.org/zap"
)

type Handler struct {
	team       *service.TeamService
	membership *service.MembershipService
	checkout   *service.CheckoutService
	reconciler *service.ReconcilerService
	task       *service.TaskService

	healthChecker HealthChecker

	logger *zap.Logger
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

func (h *Handler) WithHealthChecker(c HealthChecker) *Handler {
	h.healthChecker = c
	return h
}

func (h *Handler) WithTeamService(team *service.TeamService) *Handler {
	h.team = team
	return h
}

func (h *Handler) WithMembershipService(membership *service.MembershipService) *Handler {
	h.membership = membership
	return h
}

func (h *Handler) WithCheckoutService(checkout *service.CheckoutService) *Handler {
	h.checkout = checkout
	return h
}

func (h *Handler) WithReconcilerService(reconciler *service.ReconcilerService) *Handler {
	h.reconciler = reconciler
	return h
}

func (h *Handler) WithTaskService(task *service.TaskService) *Handler {
	h.task = task
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.Validator = NewValidator()
	e.Use(middleware.RequestID())
	e.Use(ZapLoggerMiddleware(h.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", h.healthChecker.HealthCheck())

	// System-to-system: authenticated by signature, not by bearer token.
	e.POST("/webhooks/payment", h.PaymentWebhook)

	security := e.Group("", AuthMiddleware())

	security.POST("/teams", h.CreateTeam)
	security.GET("/teams", h.ListTeams)
	security.GET("/teams/:team_id", h.GetTeamInfo)

	security.POST("/teams/:team_id/join", h.RequestJoin)
	security.POST("/teams/:team_id/join/confirm", h.ConfirmJoin)
	security.GET("/teams/:team_id/membership", h.GetMembership)
	security.GET("/teams/:team_id/members", h.ListMembers)
	security.POST("/teams/:team_id/members", h.AddMember)
	security.DELETE("/teams/:team_id/members/:user_id", h.RemoveMember)
	security.POST("/teams/:team_id/subscription/cancel", h.CancelSubscription)

	security.POST("/checkout/owner", h.StartOwnerCheckout)

	security.POST("/teams/:team_id/tasks", h.CreateTask)
	security.GET("/teams/:team_id/tasks", h.ListTasks)
	security.PATCH("/teams/:team_id/tasks/:task_id", h.UpdateTask)
	security.DELETE("/teams/:team_id/tasks/:task_id", h.DeleteTask)
}

// PaymentWebhook answers 400 only when signature verification fails, so the
// processor retries; every other outcome is acknowledged with 200 because
// redelivery cannot fix it.
func (h *Handler) PaymentWebhook(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	payload, err := io.ReadAll(e.Request().Body)
	if err != nil {
		l.Error("failed to read webhook payload", zap.Error(err))
		return e.NoContent(http.StatusBadRequest)
	}

	signature := e.Request().Header.Get("Stripe-Signature")

	if serviceErr := h.reconciler.HandleEvent(e.Request().Context(), payload, signature); serviceErr != nil {
		if serviceErr.Code == service.ErrorCodeSignature {
			return e.JSON(http.StatusBadRequest, map[string]string{"error": serviceErr.Message})
		}
		l.Warn("webhook acknowledged with error", zap.String("code", string(serviceErr.Code)), zap.String("message", serviceErr.Message))
	}

	return e.JSON(http.StatusOK, map[string]string{"status": "received"})
}

func (h *Handler) CreateTeam(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		Name            string `json:"team_name" validate:"required"`
		AccessMode      string `json:"access_mode" validate:"required,oneof=free paid"`
		Tier            string `json:"tier"`
		TierPriceCents  int64  `json:"tier_price_cents"`
		JoiningFeeCents int64  `json:"joining_fee_cents"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("creating team", zap.String("team_name", req.Name), zap.String("access_mode", req.AccessMode))

	team, err := h.team.CreateTeam(e.Request().Context(), callerID(e), &service.CreateTeamParams{
		Name:            req.Name,
		AccessMode:      model.AccessMode(req.AccessMode),
		Tier:            model.Tier(req.Tier),
		TierPriceCents:  req.TierPriceCents,
		JoiningFeeCents: req.JoiningFeeCents,
	})
	if err != nil {
		l.Error("failed to create team", zap.String("team_name", req.Name), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusCreated, team)
}

func (h *Handler) ListTeams(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teams, err := h.team.ListTeams(e.Request().Context())
	if err != nil {
		l.Error("failed to list teams", zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, teams)
}

func (h *Handler) GetTeamInfo(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("team_id")

	team, err := h.team.GetTeamInfo(e.Request().Context(), teamID)
	if err != nil {
		l.Error("failed to get team", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, team)
}

func (h *Handler) RequestJoin(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("team_id")

	l.Info("join requested", zap.String("team_id", teamID))

	outcome, err := h.membership.RequestJoin(e.Request().Context(), teamID, callerID(e), callerEmail(e))
	if err != nil {
		l.Error("failed to process join request", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, outcome)
}

func (h *Handler) ConfirmJoin(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("team_id")

	var req struct {
		SessionID string `json:"session_id"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	membership, err := h.membership.ConfirmJoin(e.Request().Context(), teamID, callerID(e), req.SessionID)
	if err != nil {
		l.Error("failed to confirm join", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, membership)
}

func (h *Handler) GetMembership(e echo.Context) error {
	teamID := e.Param("team_id")

	membership, err := h.membership.GetMembership(e.Request().Context(), teamID, callerID(e))
	if err != nil {
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, membership)
}

func (h *Handler) ListMembers(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("team_id")

	members, err := h.membership.ListMembers(e.Request().Context(), teamID, callerID(e))
	if err != nil {
		l.Error("failed to list members", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, members)
}

func (h *Handler) AddMember(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("team_id")

	var req struct {
		UserID string `json:"user_id" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("adding member", zap.String("team_id", teamID), zap.String("target_id", req.UserID))

	if err := h.membership.AddMemberDirectly(e.Request().Context(), teamID, callerID(e), req.UserID); err != nil {
		l.Error("failed to add member", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusCreated, map[string]string{"team_id": teamID, "user_id": req.UserID})
}

func (h *Handler) RemoveMember(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("team_id")
	targetID := e.Param("user_id")

	l.Info("removing member", zap.String("team_id", teamID), zap.String("target_id", targetID))

	if err := h.membership.RemoveMember(e.Request().Context(), teamID, callerID(e), targetID); err != nil {
		l.Error("failed to remove member", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.NoContent(http.StatusNoContent)
}

func (h *Handler) CancelSubscription(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("team_id")

	l.Info("cancelling subscription", zap.String("team_id", teamID))

	if err := h.membership.CancelOwnSubscription(e.Request().Context(), teamID, callerID(e)); err != nil {
		l.Error("failed to cancel subscription", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) StartOwnerCheckout(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TeamName        string `json:"team_name" validate:"required"`
		Tier            string `json:"tier" validate:"required"`
		TierPriceCents  int64  `json:"tier_price_cents" validate:"required"`
		JoiningFeeCents int64  `json:"joining_fee_cents" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("starting owner checkout", zap.String("team_name", req.TeamName), zap.String("tier", req.Tier))

	url, err := h.checkout.StartOwnerCheckout(e.Request().Context(), callerID(e), callerEmail(e), &service.OwnerCheckoutParams{
		TeamName:        req.TeamName,
		Tier:            model.Tier(req.Tier),
		TierPriceCents:  req.TierPriceCents,
		JoiningFeeCents: req.JoiningFeeCents,
	})
	if err != nil {
		l.Error("failed to start owner checkout", zap.String("team_name", req.TeamName), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]string{"redirect_url": url})
}

func (h *Handler) CreateTask(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("team_id")

	var req struct {
		Title       string `json:"title" validate:"required"`
		Description string `json:"description"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	task, err := h.task.CreateTask(e.Request().Context(), teamID, callerID(e), req.Title, req.Description)
	if err != nil {
		l.Error("failed to create task", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusCreated, task)
}

func (h *Handler) ListTasks(e echo.Context) error {
	teamID := e.Param("team_id")

	tasks, err := h.task.ListTasks(e.Request().Context(), teamID, callerID(e))
	if err != nil {
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, tasks)
}

func (h *Handler) UpdateTask(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("team_id")
	taskID := e.Param("task_id")

	patch := &model.TaskPatch{}

	if err := h.decodeRequest(e, patch); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	task, err := h.task.UpdateTask(e.Request().Context(), teamID, taskID, callerID(e), patch)
	if err != nil {
		l.Error("failed to update task", zap.String("task_id", taskID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, task)
}

func (h *Handler) DeleteTask(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("team_id")
	taskID := e.Param("task_id")

	if err := h.task.DeleteTask(e.Request().Context(), teamID, taskID, callerID(e)); err != nil {
		l.Error("failed to delete task", zap.String("task_id", taskID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.NoContent(http.StatusNoContent)
}

func (h *Handler) decodeRequest(e echo.Context, req any) *service.Error {
	if err := e.Bind(req); err != nil {
		return service.NewError(service.ErrorCodeInvalidBody, "invalid request body")
	}

	if err := e.Validate(req); err != nil {
		return service.NewError(service.ErrorCodeInvalidBody, errors.Wrap(err, "request validation failed").Error())
	}
	return nil
}

func (h *Handler) transportError(e echo.Context, err *service.Error) error {
	response := struct {
		Error *service.Error `json:"error"`
	}{Error: err}

	switch err.Code {
	case service.ErrorCodeNotFound:
		return e.JSON(http.StatusNotFound, response)
	case service.ErrorCodeValidation, service.ErrorCodeInvalidBody, service.ErrorCodeMalformedEvent, service.ErrorCodeSignature:
		return e.JSON(http.StatusBadRequest, response)
	case service.ErrorCodePermission:
		return e.JSON(http.StatusForbidden, response)
	case service.ErrorCodeAlreadyMember, service.ErrorCodeSelfRemoval:
		return e.JSON(http.StatusConflict, response)
	case service.ErrorCodePaymentPending:
		return e.JSON(http.StatusPaymentRequired, response)
	case service.ErrorCodePaymentProvider:
		return e.JSON(http.StatusBadGateway, response)
	default:
		return e.JSON(http.StatusInternalServerError, response)
	}
}
