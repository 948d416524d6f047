package migration

import (
	"github.com/smallbiznis/pointledger/internal/config"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/outbox"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres (dev/test) environments rely on AutoMigrate.
		return conn.AutoMigrate(
			&ledgerdomain.Balance{},
			&ledgerdomain.ProcessedEvent{},
			&outbox.Event{},
		)
	}),
)
