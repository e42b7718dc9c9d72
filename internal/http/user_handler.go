package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"account-api/internal/domain"
	"account-api/internal/metrics"
	"account-api/internal/repository"
	"account-api/internal/service"
)

// UserHandler mantiene dependencias para endpoints de usuarios.
type UserHandler struct {
	logger   *zap.Logger
	userServ *service.UserService
}

// NewUserHandler crea una instancia de UserHandler con dependencias necesarias.
func NewUserHandler(logger *zap.Logger, userServ *service.UserService) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{
		logger:   logger,
		userServ: userServ,
	}
}

type createUserRequest struct {
	FirstName   string `json:"firstName" binding:"required"`
	LastName    string `json:"lastName" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	PhoneNumber string `json:"phoneNumber" binding:"required"`
}

type updateUserRequest struct {
	FirstName   *string `json:"firstName" binding:"omitempty,min=1"`
	LastName    *string `json:"lastName" binding:"omitempty,min=1"`
	Email       *string `json:"email" binding:"omitempty,email"`
	PhoneNumber *string `json:"phoneNumber" binding:"omitempty,min=1"`
}

type addressRequest struct {
	Address string `json:"address" binding:"required"`
	City    string `json:"city" binding:"required"`
	State   string `json:"state"`
	Country string `json:"country" binding:"required"`
}

type addressQuery struct {
	Since string `form:"since"`
	Until string `form:"until"`
}

// Create maneja POST /user. El externalId sale de la identidad verificada.
func (h *UserHandler) Create(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.invalid(c, "create", err)
		return
	}

	user, err := h.userServ.Create(c.Request.Context(), service.CreateUserInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		ExternalID:  identity.ExternalID,
	})
	if err != nil {
		h.fail(c, "create", err)
		return
	}
	metrics.RecordWorkflow("create", "success")
	respondOK(c, http.StatusOK, user, msgUserCreated)
}

// FindAll maneja GET /user/find-all. Una coleccion vacia responde "No user found".
func (h *UserHandler) FindAll(c *gin.Context) {
	users, err := h.userServ.FindAll(c.Request.Context())
	if err != nil {
		h.fail(c, "find_all", err)
		return
	}
	if len(users) == 0 {
		metrics.RecordWorkflow("find_all", "rejected")
		respondError(c, http.StatusBadRequest, msgNoUser)
		return
	}
	metrics.RecordWorkflow("find_all", "success")
	respondOK(c, http.StatusOK, users, msgUserFound)
}

// FindOne maneja GET /user.
func (h *UserHandler) FindOne(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	profile, err := h.userServ.FindOne(c.Request.Context(), identity.ExternalID)
	if err != nil {
		h.fail(c, "find_one", err)
		return
	}
	metrics.RecordWorkflow("find_one", "success")
	respondOK(c, http.StatusOK, profile, msgUserFound)
}

// Update maneja PATCH /user.
func (h *UserHandler) Update(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.invalid(c, "update", err)
		return
	}

	user, err := h.userServ.Update(c.Request.Context(), identity.ExternalID, service.UpdateUserInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		h.fail(c, "update", err)
		return
	}
	metrics.RecordWorkflow("update", "success")
	respondOK(c, http.StatusOK, user, msgUserUpdated)
}

// Remove maneja DELETE /user.
func (h *UserHandler) Remove(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	if err := h.userServ.Remove(c.Request.Context(), identity.ExternalID); err != nil {
		h.fail(c, "remove", err)
		return
	}
	metrics.RecordWorkflow("remove", "success")
	respondOK(c, http.StatusOK, true, msgUserDeleted)
}

// InsertUserAddress maneja POST /user/address.
func (h *UserHandler) InsertUserAddress(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.invalid(c, "insert_address", err)
		return
	}

	addr, err := h.userServ.InsertUserAddress(c.Request.Context(), identity.ExternalID, service.AddressInput{
		Address: req.Address,
		City:    req.City,
		State:   req.State,
		Country: req.Country,
	})
	if err != nil {
		h.fail(c, "insert_address", err)
		return
	}
	metrics.RecordWorkflow("insert_address", "success")
	respondOK(c, http.StatusOK, addr, msgAddressCreated)
}

// ListAddresses maneja GET /user/address?since=&until= con cotas RFC 3339 opcionales.
func (h *UserHandler) ListAddresses(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	var q addressQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.invalid(c, "list_addresses", err)
		return
	}
	filter, err := parseAddressFilter(q)
	if err != nil {
		h.invalid(c, "list_addresses", err)
		return
	}

	addrs, err := h.userServ.ListAddresses(c.Request.Context(), identity.ExternalID, filter)
	if err != nil {
		h.fail(c, "list_addresses", err)
		return
	}
	if addrs == nil {
		addrs = []domain.Address{}
	}
	metrics.RecordWorkflow("list_addresses", "success")
	respondOK(c, http.StatusOK, addrs, msgAddressList)
}

func parseAddressFilter(q addressQuery) (service.AddressFilter, error) {
	var filter service.AddressFilter
	if q.Since != "" {
		t, err := time.Parse(time.RFC3339Nano, q.Since)
		if err != nil {
			return filter, err
		}
		filter.Since = &t
	}
	if q.Until != "" {
		t, err := time.Parse(time.RFC3339Nano, q.Until)
		if err != nil {
			return filter, err
		}
		filter.Until = &t
	}
	return filter, nil
}

func (h *UserHandler) identity(c *gin.Context) (domain.Identity, bool) {
	identity, ok := GetIdentity(c)
	if !ok || identity.ExternalID == "" {
		rejectAccess(c)
		return domain.Identity{}, false
	}
	return identity, true
}

func (h *UserHandler) invalid(c *gin.Context, op string, err error) {
	h.logger.Warn("invalid request", zap.String("operation", op), zap.Error(err))
	metrics.RecordWorkflow(op, "rejected")
	respondError(c, http.StatusBadRequest, msgInvalidRequest)
}

// fail traduce errores del servicio a respuestas; lo inesperado es 500.
func (h *UserHandler) fail(c *gin.Context, op string, err error) {
	status, message := http.StatusBadRequest, ""
	switch {
	case errors.Is(err, service.ErrUserExists):
		message = msgUserExists
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrAddressNotFound):
		message = msgNoUser
	case errors.Is(err, service.ErrNothingToUpdate):
		message = msgNothingToPatch
	case errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrInvalidIdentity),
		errors.Is(err, service.ErrInvalidPhone),
		errors.Is(err, repository.ErrInvalidArgument):
		message = msgInvalidRequest
	default:
		status, message = http.StatusInternalServerError, msgInternalError
	}

	if status == http.StatusInternalServerError {
		fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
		if errors.Is(err, context.DeadlineExceeded) {
			fields = append(fields, zap.Bool("timeout", true))
		}
		h.logger.Error("user workflow failed", fields...)
		metrics.RecordWorkflow(op, "error")
	} else {
		metrics.RecordWorkflow(op, "rejected")
	}
	respondError(c, status, message)
}
