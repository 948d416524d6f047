package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/pointledger/internal/ledger/service"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&ledgerdomain.Balance{}))

	log := zap.NewNop()
	svc := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB:   db,
		Log:  log,
		Repo: repository.Provide(),
	})

	s := NewServer(Params{
		Engine:    NewEngine(log),
		Log:       log,
		LedgerSvc: svc,
	})
	return s, db
}

func TestGetBalance(t *testing.T) {
	s, db := setupServer(t)

	node, _ := snowflake.NewNode(1)
	balance := ledgerdomain.NewBalance(node.Generate(), "user-1", 700, true, time.Now().UTC())
	assert.NoError(t, repository.Provide().Insert(context.Background(), db, balance))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/points/user-1", nil)
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp balanceResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, int64(700), resp.Points)
	assert.True(t, resp.Subscribed)
}

func TestGetBalance_NotFound(t *testing.T) {
	s, _ := setupServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/points/ghost", nil)
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	s, _ := setupServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
