package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dcruzimoveis/leadmatch/internal/auth"
	"github.com/dcruzimoveis/leadmatch/internal/engine"
	"github.com/dcruzimoveis/leadmatch/internal/leads"
	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const adminSubjectContextKey = "leadmatch_admin_subject"

var (
	errMissingEngine         = errors.New("engine dependency required")
	errMissingAdminValidator = errors.New("admin validator dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// Engine is the set of operations exposed over HTTP.
type Engine interface {
	RecordInterest(ctx context.Context, input engine.InterestInput) (engine.InterestResult, error)
	UpsertProperty(ctx context.Context, input engine.PropertyInput) (engine.PropertyResult, error)
	RunMatch(ctx context.Context, propertyID string) (engine.MatchResult, error)
	SubscribePriceAlert(ctx context.Context, input engine.SubscriptionInput) (leads.PriceAlertSubscription, error)
	UnsubscribePriceAlert(ctx context.Context, input engine.SubscriptionInput) (bool, error)
	OptOut(ctx context.Context, leadID string) (leads.Lead, error)
	SuggestProperties(ctx context.Context, leadID string, limit int) ([]listings.Property, error)
	RefreshPreferences(ctx context.Context, leadID string) (engine.RefreshResult, error)
}

// AdminValidator authorizes operator requests.
type AdminValidator interface {
	ValidateRequest(r *http.Request) (auth.AdminClaims, error)
}

type Dependencies struct {
	Engine         Engine
	AdminValidator AdminValidator
	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.AdminValidator == nil {
		return nil, errMissingAdminValidator
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		engine: deps.Engine,
		admin:  deps.AdminValidator,
		logger: logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	router.POST("/leads", handler.handleRecordInterest)
	router.POST("/price-alerts", handler.handleSubscribePriceAlert)
	router.POST("/price-alerts/cancel", handler.handleUnsubscribePriceAlert)
	router.POST("/opt-out/:leadId", handler.handleOptOut)

	admin := router.Group("/admin")
	admin.Use(handler.authorizeAdmin)
	admin.POST("/properties", handler.handleCreateProperty)
	admin.PUT("/properties/:id", handler.handleUpdateProperty)
	admin.POST("/properties/:id/match", handler.handleRunMatch)
	admin.GET("/leads/:id/suggestions", handler.handleSuggestProperties)
	admin.POST("/leads/:id/refresh-preferences", handler.handleRefreshPreferences)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	engine Engine
	admin  AdminValidator
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	claims, err := h.admin.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrMissingAdminToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		}
		if errors.Is(err, auth.ErrExpiredAdminToken) {
			h.logger.Info("admin token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("admin token validation failed", zap.Error(err))
		}
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrMissingAdminRole) {
			status = http.StatusForbidden
		}
		c.AbortWithStatusJSON(status, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(adminSubjectContextKey, claims.Subject)
	c.Next()
}

// respondError maps engine error classes to HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	code := engine.ErrorCode(err)
	reason := code[strings.LastIndex(code, ".")+1:]
	switch {
	case errors.Is(err, engine.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": reason, "code": code})
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": reason, "code": code})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": code})
	}
}

func respondInvalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
}
