package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"go.uber.org/zap"
)

type balanceResponse struct {
	UserID     string    `json:"user_id"`
	Points     int64     `json:"points"`
	Subscribed bool      `json:"subscribed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *Server) getBalance(c *gin.Context) {
	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		switch {
		case errors.Is(err, ledgerdomain.ErrInvalidUser):
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		case errors.Is(err, ledgerdomain.ErrBalanceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "balance not found"})
		default:
			s.log.Error("balance lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, balanceResponse{
		UserID:     balance.UserID,
		Points:     balance.Points,
		Subscribed: balance.Subscribed,
		UpdatedAt:  balance.UpdatedAt,
	})
}
