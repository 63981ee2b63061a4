package workflow

import (
	"fmt"

	"github.com/mmdatafocus/supplymap_backend/config"
	"gorm.io/gorm"
)

const siteFeedLockWaitSeconds = 30

func siteFeedLockName(siteCode string) string {
	return fmt.Sprintf("supply-feed:%s", siteCode)
}

// WithSiteFeedLock runs fn in a transaction while holding the site's feed
// lock, so one site's feed messages are applied one at a time across
// instances.
//
// MySQL GET_LOCK belongs to the connection, so one connection is pinned for
// lock, transaction and release. Postgres takes a transaction-scoped advisory
// lock as the first statement of the transaction; it is released on commit
// or rollback.
func WithSiteFeedLock(db *gorm.DB, siteCode string, fn func(tx *gorm.DB) error) error {
	lockName := siteFeedLockName(siteCode)
	if config.DatabaseDriver() == config.DriverPostgres {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lockName).Error; err != nil {
				return err
			}
			return fn(tx)
		})
	}

	return db.Connection(func(conn *gorm.DB) error {
		var ok int
		if err := conn.Raw("SELECT GET_LOCK(?, ?)", lockName, siteFeedLockWaitSeconds).Scan(&ok).Error; err != nil {
			return err
		}
		if ok != 1 {
			return fmt.Errorf("could not acquire feed lock for site %s", siteCode)
		}
		defer func() {
			var released int
			_ = conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released).Error
		}()
		return conn.Transaction(fn)
	})
}
