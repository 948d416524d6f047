package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/pointledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&ledgerdomain.Balance{},
		&ledgerdomain.ProcessedEvent{},
	))
	return db
}

func TestInsertAndFindByUserID(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()

	balance := ledgerdomain.NewBalance(node.Generate(), "user-1", 500, true, time.Now().UTC())
	assert.NoError(t, repo.Insert(ctx, db, balance))

	found, err := repo.FindByUserID(ctx, db, "user-1")
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, int64(500), found.Points)
	assert.True(t, found.Subscribed)
	assert.Equal(t, int64(0), found.Version)
}

func TestFindByUserID_Absent(t *testing.T) {
	db := setupDB(t)
	repo := Provide()

	found, err := repo.FindByUserID(context.Background(), db, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, found)
}

func TestUpdateWithVersion(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()

	balance := ledgerdomain.NewBalance(node.Generate(), "user-1", 100, false, time.Now().UTC())
	assert.NoError(t, repo.Insert(ctx, db, balance))

	balance.Points = 250
	assert.NoError(t, repo.UpdateWithVersion(ctx, db, balance, 0))
	assert.Equal(t, int64(1), balance.Version)

	found, err := repo.FindByUserID(ctx, db, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, int64(250), found.Points)
	assert.Equal(t, int64(1), found.Version)
}

func TestUpdateWithVersion_Conflict(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	node, _ := snowflake.NewNode(1)
	ctx := context.Background()

	balance := ledgerdomain.NewBalance(node.Generate(), "user-1", 100, false, time.Now().UTC())
	assert.NoError(t, repo.Insert(ctx, db, balance))

	// Another writer bumped the version first.
	assert.NoError(t, repo.UpdateWithVersion(ctx, db, balance, 0))

	stale := *balance
	stale.Points = 999
	err := repo.UpdateWithVersion(ctx, db, &stale, 0)
	assert.ErrorIs(t, err, ledgerdomain.ErrVersionConflict)

	found, err := repo.FindByUserID(ctx, db, "user-1")
	assert.NoError(t, err)
	assert.NotEqual(t, int64(999), found.Points)
}

func TestMarkProcessed_DuplicateKey(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	ctx := context.Background()

	marker := &ledgerdomain.ProcessedEvent{
		EventID:     "evt-1",
		UserID:      "user-1",
		EventKind:   "PointsGranted",
		ProcessedAt: time.Now().UTC(),
	}
	assert.NoError(t, repo.MarkProcessed(ctx, db, marker))

	err := repo.MarkProcessed(ctx, db, marker)
	assert.Error(t, err)
	assert.True(t, pkgdb.IsDuplicateKeyErr(err))

	processed, err := repo.IsProcessed(ctx, db, "evt-1")
	assert.NoError(t, err)
	assert.True(t, processed)

	processed, err = repo.IsProcessed(ctx, db, "evt-2")
	assert.NoError(t, err)
	assert.False(t, processed)
}
