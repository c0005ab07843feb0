package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/orders"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/pkg/metrics"
)

const defaultSlippageBps = 100

// CreateOrderRequest is the POST /orders body. Amount accepts a JSON
// number or numeric string; slippageBps defaults to 100 when omitted.
type CreateOrderRequest struct {
	TokenIn     string          `json:"tokenIn" binding:"required"`
	TokenOut    string          `json:"tokenOut" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	SlippageBps *int            `json:"slippageBps" binding:"omitempty,min=1,max=1000"`
}

// handleCreateOrder handles POST /api/v1/orders
func (s *Server) handleCreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidation(c, err)
		return
	}
	if !req.Amount.IsPositive() {
		s.respondError(c, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be greater than zero")
		return
	}
	if strings.EqualFold(req.TokenIn, req.TokenOut) {
		s.respondError(c, http.StatusBadRequest, "INVALID_PAIR", "tokenIn and tokenOut must differ")
		return
	}

	slippage := defaultSlippageBps
	if req.SlippageBps != nil {
		slippage = *req.SlippageBps
	}

	ord := &orders.Order{
		ID:          uuid.New(),
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		Amount:      req.Amount,
		SlippageBps: slippage,
	}

	event, err := s.store.Create(c.Request.Context(), ord)
	if err != nil {
		s.logger.Error("failed to create order", zap.Error(err))
		s.respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to create order")
		return
	}
	s.bus.Publish(ord.ID, *event)

	if err := s.queue.Enqueue(c.Request.Context(), ord); err != nil {
		s.logger.Error("failed to enqueue order",
			zap.String("order_id", ord.ID.String()),
			zap.Error(err))
		s.respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to schedule order")
		return
	}

	metrics.OrdersSubmitted.Inc()
	c.JSON(http.StatusOK, gin.H{"orderId": ord.ID})
}

// handleGetOrder handles GET /api/v1/orders/:orderID
func (s *Server) handleGetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderID"))
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be a uuid")
		return
	}

	ord, err := s.store.Get(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			s.respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
			return
		}
		s.logger.Error("failed to load order", zap.String("order_id", orderID.String()), zap.Error(err))
		s.respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to load order")
		return
	}

	history, err := s.store.History(c.Request.Context(), orderID)
	if err != nil {
		s.logger.Error("failed to load order history", zap.String("order_id", orderID.String()), zap.Error(err))
		s.respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to load order")
		return
	}

	events := make([]streamMessage, len(history))
	for i, ev := range history {
		events[i] = newStreamMessage(ev)
	}
	c.JSON(http.StatusOK, gin.H{
		"order":   ord,
		"history": events,
	})
}

// respondValidation maps binding failures to a structured 400
func (s *Server) respondValidation(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		issues := make([]gin.H, len(verrs))
		for i, fe := range verrs {
			issues[i] = gin.H{
				"field":  fieldName(fe),
				"reason": fe.Tag(),
			}
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "request validation failed",
				"issues":  issues,
			},
		})
		return
	}
	s.respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}

func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return fe.StructField()
	}
	return strings.ToLower(name[:1]) + name[1:]
}
