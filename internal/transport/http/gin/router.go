package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	redisx "github.com/ostrovok-lab/gatecheck/internal/redis"
	"github.com/ostrovok-lab/gatecheck/internal/repository"
	postgresrepo "github.com/ostrovok-lab/gatecheck/internal/repository/postgres"
	redisrepo "github.com/ostrovok-lab/gatecheck/internal/repository/redis"
	"github.com/ostrovok-lab/gatecheck/internal/service"
	"github.com/ostrovok-lab/gatecheck/internal/service/admin"
	"github.com/ostrovok-lab/gatecheck/internal/service/inventory"
	"github.com/ostrovok-lab/gatecheck/internal/service/orders"
	"github.com/ostrovok-lab/gatecheck/internal/service/reservation"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/tiers/:tierID/inventory", handleTierInventory(svcs))
	r.POST("/events/:id/tiers/:tierID/holds", handleCreateHold(svcs, idem))
	r.DELETE("/events/:id/tiers/:tierID/holds/:holdID", handleReleaseHold(svcs))

	r.POST("/orders", handleCreateOrder(svcs))
	r.GET("/orders/:id", handleGetOrder(svcs))
	r.POST("/orders/:id/pay", handlePayOrder(svcs))
	r.POST("/orders/:id/refund", handleRefundOrder(svcs))

	r.POST("/tickets/:id/checkin", handleCheckInTicket(svcs))

	// Admin-API
	// TODO: add admin middleware
	adminGroup := r.Group("/admin")
	{
		adminGroup.POST("/events", handleCreateEvent(svcs))
		adminGroup.POST("/events/:id/tiers", handleCreateTier(svcs))
		adminGroup.POST("/holds/purge", handlePurgeHolds(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Get event with tiers
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  EventResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		e, tiers, err := svcs.Inventory.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, newEventResponse(e, tiers), "public, max-age=60")
	}
}

// @Summary  Tier inventory diagnostics
// @Param    id      path  int  true  "Event ID"
// @Param    tierID  path  int  true  "Tier ID"
// @Success  200  {object}  TierInventoryResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/tiers/{tierID}/inventory [get]
func handleTierInventory(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		tierID, ok := parseInt64Param(c, "tierID")
		if !ok {
			return
		}

		snap, err := svcs.Inventory.TierSnapshot(c.Request.Context(), eventID, tierID)
		if err != nil {
			respondErr(c, err)
			return
		}

		resp := TierInventoryResponse{
			Capacity:    snap.Counts.Capacity,
			Sold:        snap.Counts.Sold,
			ActiveHolds: int64(len(snap.Holds)),
			Available:   snap.Counts.Available,
			Holds:       make([]HoldView, 0, len(snap.Holds)),
		}
		for _, h := range snap.Holds {
			resp.Holds = append(resp.Holds, HoldView{
				HoldID:      h.ID.String(),
				Qty:         h.Qty,
				CreatedAtMs: h.CreatedAt.UnixMilli(),
				ExpiresAtMs: h.ExpiresAt.UnixMilli(),
			})
		}

		writeJSONWithCache(c, http.StatusOK, resp, "public, max-age=5")
	}
}

// @Summary  Create hold (idempotent)
// @Param    id      path  int  true  "Event ID"
// @Param    tierID  path  int  true  "Tier ID"
// @Param    req body  CreateHoldRequest true "quantity for auto-assign, ticket_ids to pick seats"
// @Success  201 {object} CreateHoldResponse
// @Failure  400 {object} ErrorResponse "INVALID_QTY"
// @Failure  404 {object} ErrorResponse "TIER_NOT_FOUND"
// @Failure  409 {object} ErrorResponse "HOLD_NOT_ENOUGH_STOCK / PARTIAL_CONFLICT"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /events/{id}/tiers/{tierID}/holds [post]
func handleCreateHold(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		tierID, ok := parseInt64Param(c, "tierID")
		if !ok {
			return
		}
		var req CreateHoldRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisx.KeyIdemHold(eventID, tierID, idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{
					Code:  "IDEMPOTENCY_IN_PROGRESS",
					Error: "idempotency key in progress",
				})
				return
			}
		}

		rec, err := svcs.Reservation.CreateHold(c.Request.Context(), reservation.CreateHoldParams{
			EventID:   eventID,
			TierID:    tierID,
			Qty:       req.Quantity,
			TicketIDs: req.TicketIDs,
			RateKey:   rateKey(req.UserID, c.ClientIP()),
		})
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := CreateHoldResponse{
			HoldID:      rec.Hold.ID.String(),
			Mode:        string(rec.Mode),
			ExpiresAtMs: rec.Hold.ExpiresAt.UnixMilli(),
			TicketIDs:   rec.TicketIDs,
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Release hold
// @Param    id      path  int     true  "Event ID"
// @Param    tierID  path  int     true  "Tier ID"
// @Param    holdID  path  string  true  "Hold ID (uuid)"
// @Success  204
// @Failure  404 {object} ErrorResponse "HOLD_NOT_FOUND"
// @Router   /events/{id}/tiers/{tierID}/holds/{holdID} [delete]
func handleReleaseHold(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		tierID, ok := parseInt64Param(c, "tierID")
		if !ok {
			return
		}
		holdID, err := uuid.Parse(c.Param("holdID"))
		if err != nil {
			badRequest(c, "invalid holdID")
			return
		}

		if err := svcs.Reservation.ReleaseHold(c.Request.Context(), eventID, tierID, holdID); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// @Summary  Create order from hold
// @Param    req body  CreateOrderRequest true "payload"
// @Success  201 {object} CreateOrderResponse
// @Failure  404 {object} ErrorResponse "HOLD_NOT_FOUND"
// @Failure  409 {object} ErrorResponse "HOLD_EXPIRED / ORDER_HOLD_MISMATCH"
// @Router   /orders [post]
func handleCreateOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		holdID, err := uuid.Parse(req.HoldID)
		if err != nil {
			badRequest(c, "invalid hold_id")
			return
		}

		order, err := svcs.Orders.Finalize(c.Request.Context(), repository.FinalizeParams{
			HoldID:  holdID,
			UserID:  req.UserID,
			EventID: req.EventID,
			TierID:  req.TierID,
			Qty:     req.Quantity,
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, CreateOrderResponse{
			OrderID:   order.ID.String(),
			Status:    string(order.Status),
			CreatedAt: order.CreatedAt,
		})
	}
}

// @Summary  Get order with tickets
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200 {object} OrderResponse
// @Failure  404 {object} ErrorResponse "ORDER_NOT_FOUND"
// @Router   /orders/{id} [get]
func handleGetOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid order id")
			return
		}
		o, err := svcs.Orders.GetOrder(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, newOrderResponse(o))
	}
}

// @Summary  Mark order paid
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  204
// @Failure  409 {object} ErrorResponse "ORDER_STATE"
// @Router   /orders/{id}/pay [post]
func handlePayOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid order id")
			return
		}
		if err := svcs.Orders.MarkPaid(c.Request.Context(), orderID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Refund order
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  204
// @Failure  409 {object} ErrorResponse "ORDER_STATE"
// @Router   /orders/{id}/refund [post]
func handleRefundOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid order id")
			return
		}
		if err := svcs.Orders.Refund(c.Request.Context(), orderID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Check in ticket
// @Param    id  path  int  true  "Ticket ID"
// @Success  204
// @Failure  409 {object} ErrorResponse "TICKET_STATE"
// @Router   /tickets/{id}/checkin [post]
func handleCheckInTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ticketID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		if err := svcs.Orders.CheckIn(c.Request.Context(), ticketID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Create event
// @Param    req body  CreateEventRequest true "payload"
// @Success  201 {object} CreateEventResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		saleStarts, err := parseRFC3339(req.SaleStartsAt)
		if err != nil {
			badRequest(c, "invalid sale_starts_at (RFC3339)")
			return
		}
		starts, err := parseRFC3339(req.StartsAt)
		if err != nil {
			badRequest(c, "invalid starts_at (RFC3339)")
			return
		}
		id, err := svcs.Admin.CreateEvent(c.Request.Context(), req.Title, saleStarts, starts)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateEventResponse{EventID: id})
	}
}

// @Summary  Create tier and provision tickets
// @Param    id  path  int  true  "Event ID"
// @Param    req body  CreateTierRequest true "payload"
// @Success  201 {object} CreateTierResponse
// @Router   /admin/events/{id}/tiers [post]
func handleCreateTier(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CreateTierRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		tier, err := svcs.Admin.CreateTier(
			c.Request.Context(),
			eventID,
			req.Name,
			req.Capacity,
			req.PriceCents,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateTierResponse{TierID: tier.ID, Capacity: tier.Capacity})
	}
}

// @Summary  Purge expired holds
// @Success  200 {object} PurgeResponse
// @Router   /admin/holds/purge [post]
func handlePurgeHolds(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		purged, err := svcs.Reservation.Purge(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, PurgeResponse{Purged: purged})
	}
}

// --- Helpers ---

// rateKey throttles by user when the request identifies one, otherwise
// by client IP.
func rateKey(userID int64, ip string) string {
	if userID > 0 {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	return "ip:" + ip
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var invalidQty *reservation.InvalidQuantityError
	if errors.As(err, &invalidQty) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_QTY", Error: invalidQty.Error()})
		return
	}

	var insufficient *reservation.InsufficientStockError
	if errors.As(err, &insufficient) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Code:      "HOLD_NOT_ENOUGH_STOCK",
			Error:     insufficient.Error(),
			Available: &insufficient.Available,
		})
		return
	}

	var partial *reservation.PartialConflictError
	if errors.As(err, &partial) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Code:      "PARTIAL_CONFLICT",
			Error:     partial.Error(),
			FailedIDs: partial.FailedIDs,
		})
		return
	}

	switch {
	// reservation service
	case errors.Is(err, reservation.ErrTierNotFound), errors.Is(err, inventory.ErrTierNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "TIER_NOT_FOUND", Error: "tier not found"})
	case errors.Is(err, reservation.ErrHoldNotFound), errors.Is(err, orders.ErrHoldNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "HOLD_NOT_FOUND", Error: "hold not found"})
	case errors.Is(err, reservation.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Code: "RATE_LIMITED", Error: "rate limited"})
	// orders service
	case errors.Is(err, orders.ErrHoldExpired):
		c.JSON(http.StatusConflict, ErrorResponse{Code: "HOLD_EXPIRED", Error: "hold expired"})
	case errors.Is(err, orders.ErrHoldMismatch):
		c.JSON(http.StatusConflict, ErrorResponse{Code: "ORDER_HOLD_MISMATCH", Error: "hold does not match order request"})
	case errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "ORDER_NOT_FOUND", Error: "order not found"})
	case errors.Is(err, orders.ErrOrderState):
		c.JSON(http.StatusConflict, ErrorResponse{Code: "ORDER_STATE", Error: "order state does not allow this transition"})
	case errors.Is(err, orders.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "TICKET_NOT_FOUND", Error: "ticket not found"})
	case errors.Is(err, orders.ErrTicketState):
		c.JSON(http.StatusConflict, ErrorResponse{Code: "TICKET_STATE", Error: "ticket state does not allow this transition"})
	// inventory service
	case errors.Is(err, inventory.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "EVENT_NOT_FOUND", Error: "event not found"})
	// admin service
	case errors.Is(err, admin.ErrEventConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Code: "EVENT_CONFLICT", Error: "event conflict"})
	case errors.Is(err, admin.ErrTierConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Code: "TIER_CONFLICT", Error: "tier conflict"})
	case errors.Is(err, admin.ErrBadCapacity):
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "BAD_CAPACITY", Error: "capacity must be positive"})
	default:
		// Infrastructure failure: log with full context, hand the caller an
		// opaque response. Serialization and deadlock failures are worth an
		// immediate retry, the rest are not.
		_ = c.Error(err)
		if postgresrepo.IsRetryable(err) {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Code:  "RETRY",
				Error: "transient conflict, try again",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:  "INTERNAL",
			Error: "temporary failure, try again",
		})
	}
}
