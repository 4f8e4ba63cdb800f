package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dcruzimoveis/leadmatch/internal/engine"
	"github.com/dcruzimoveis/leadmatch/internal/leads"
	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"github.com/dcruzimoveis/leadmatch/internal/notify"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type interestRequestPayload struct {
	PropertyID  *string                    `json:"property_id"`
	Name        string                     `json:"name" binding:"required"`
	Email       string                     `json:"email" binding:"omitempty,email"`
	Phone       string                     `json:"phone"`
	Message     string                     `json:"message"`
	Source      string                     `json:"source"`
	Preferences *preferencesRequestPayload `json:"preferences"`
}

type preferencesRequestPayload struct {
	PriceMin        *decimal.Decimal `json:"price_min"`
	PriceMax        *decimal.Decimal `json:"price_max"`
	Category        *string          `json:"category"`
	ListingType     *string          `json:"listing_type"`
	City            *string          `json:"city"`
	State           *string          `json:"state"`
	MinBedrooms     *int             `json:"min_bedrooms" binding:"omitempty,min=0"`
	MinBathrooms    *int             `json:"min_bathrooms" binding:"omitempty,min=0"`
	MatchingEnabled *bool            `json:"matching_enabled"`
}

type interestResponsePayload struct {
	Lead       leads.Lead      `json:"lead"`
	AdminAlert *notify.Outcome `json:"admin_alert,omitempty"`
}

func (h *httpHandler) handleRecordInterest(c *gin.Context) {
	var request interestRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, err)
		return
	}

	input := engine.InterestInput{
		PropertyID: request.PropertyID,
		Name:       request.Name,
		Email:      request.Email,
		Phone:      request.Phone,
		Message:    request.Message,
		Source:     request.Source,
	}
	if prefs := request.Preferences; prefs != nil {
		input.Overrides = leads.Overrides{
			PriceMin:        prefs.PriceMin,
			PriceMax:        prefs.PriceMax,
			Category:        prefs.Category,
			ListingType:     prefs.ListingType,
			City:            prefs.City,
			State:           prefs.State,
			MinBedrooms:     prefs.MinBedrooms,
			MinBathrooms:    prefs.MinBathrooms,
			MatchingEnabled: prefs.MatchingEnabled,
		}
	}

	result, err := h.engine.RecordInterest(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, interestResponsePayload{Lead: result.Lead, AdminAlert: result.AdminAlert})
}

type subscriptionRequestPayload struct {
	PropertyID string  `json:"property_id" binding:"required"`
	LeadID     *string `json:"lead_id"`
	Name       string  `json:"name"`
	Phone      string  `json:"phone" binding:"omitempty,br_phone"`
}

func (p subscriptionRequestPayload) input() engine.SubscriptionInput {
	return engine.SubscriptionInput{
		PropertyID: p.PropertyID,
		LeadID:     p.LeadID,
		Name:       p.Name,
		Phone:      p.Phone,
	}
}

func (h *httpHandler) handleSubscribePriceAlert(c *gin.Context) {
	var request subscriptionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, err)
		return
	}
	subscription, err := h.engine.SubscribePriceAlert(c.Request.Context(), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, subscription)
}

func (h *httpHandler) handleUnsubscribePriceAlert(c *gin.Context) {
	var request subscriptionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, err)
		return
	}
	cancelled, err := h.engine.UnsubscribePriceAlert(c.Request.Context(), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (h *httpHandler) handleOptOut(c *gin.Context) {
	lead, err := h.engine.OptOut(c.Request.Context(), c.Param("leadId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lead_id": lead.ID, "matching_enabled": lead.MatchingEnabled})
}

type propertyRequestPayload struct {
	Title       string           `json:"title" binding:"required"`
	Category    string           `json:"category"`
	ListingType string           `json:"listing_type" binding:"omitempty,oneof=venda aluguel"`
	Status      string           `json:"status"`
	Price       *decimal.Decimal `json:"price" binding:"required"`
	City        string           `json:"city"`
	State       string           `json:"state"`
	Bedrooms    int              `json:"bedrooms" binding:"min=0"`
	Bathrooms   int              `json:"bathrooms" binding:"min=0"`
	PostalCode  string           `json:"postal_code" binding:"omitempty,cep"`
	Latitude    *float64         `json:"latitude" binding:"omitempty,latitude"`
	Longitude   *float64         `json:"longitude" binding:"omitempty,longitude"`
	GPSAccuracy *float64         `json:"gps_accuracy"`
	Images      []string         `json:"images"`
}

func (p propertyRequestPayload) input(id string) engine.PropertyInput {
	var price decimal.Decimal
	if p.Price != nil {
		price = *p.Price
	}
	return engine.PropertyInput{
		ID:          id,
		Title:       p.Title,
		Category:    p.Category,
		ListingType: p.ListingType,
		Status:      p.Status,
		Price:       price,
		City:        p.City,
		State:       p.State,
		Bedrooms:    p.Bedrooms,
		Bathrooms:   p.Bathrooms,
		PostalCode:  p.PostalCode,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		GPSAccuracy: p.GPSAccuracy,
		Images:      p.Images,
	}
}

type propertyResponsePayload struct {
	Property          listings.Property `json:"property"`
	Created           bool              `json:"created"`
	PriceReduced      bool              `json:"price_reduction_occurred"`
	GeocodeDecision   string            `json:"geocode_decision,omitempty"`
	GeocodeSource     string            `json:"geocode_source,omitempty"`
	Notifications     []notify.Outcome  `json:"notifications"`
	NotificationCount notify.Summary    `json:"summary"`
}

func (h *httpHandler) handleCreateProperty(c *gin.Context) {
	h.upsertProperty(c, "", http.StatusCreated)
}

func (h *httpHandler) handleUpdateProperty(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_property_id"})
		return
	}
	h.upsertProperty(c, id, http.StatusOK)
}

func (h *httpHandler) upsertProperty(c *gin.Context, id string, status int) {
	var request propertyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, err)
		return
	}
	result, err := h.engine.UpsertProperty(c.Request.Context(), request.input(id))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("property saved",
		zap.String("admin", c.GetString(adminSubjectContextKey)),
		zap.String("property_id", result.Property.ID),
		zap.Bool("created", result.Created),
	)
	notifications := result.Notifications
	if notifications == nil {
		notifications = []notify.Outcome{}
	}
	c.JSON(status, propertyResponsePayload{
		Property:          result.Property,
		Created:           result.Created,
		PriceReduced:      result.PriceChange != nil && result.PriceChange.ReductionOccurred,
		GeocodeDecision:   string(result.Geocode.Decision),
		GeocodeSource:     string(result.Geocode.Source),
		Notifications:     notifications,
		NotificationCount: notify.Summarize(notifications),
	})
}

type matchResponsePayload struct {
	PropertyID    string           `json:"property_id"`
	Matched       int              `json:"matched"`
	Summary       notify.Summary   `json:"summary"`
	Notifications []notify.Outcome `json:"notifications"`
}

func (h *httpHandler) handleRunMatch(c *gin.Context) {
	result, err := h.engine.RunMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	notifications := result.Notifications
	if notifications == nil {
		notifications = []notify.Outcome{}
	}
	c.JSON(http.StatusOK, matchResponsePayload{
		PropertyID:    result.Property.ID,
		Matched:       len(result.Matched),
		Summary:       result.Summary,
		Notifications: notifications,
	})
}

func (h *httpHandler) handleSuggestProperties(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}
	properties, err := h.engine.SuggestProperties(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if properties == nil {
		properties = []listings.Property{}
	}
	c.JSON(http.StatusOK, gin.H{"properties": properties})
}

func (h *httpHandler) handleRefreshPreferences(c *gin.Context) {
	result, err := h.engine.RefreshPreferences(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lead": result.Lead, "changed": result.Changed})
}
