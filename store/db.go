package store

import (
	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	applog "github.com/shiftvault/custodycore/log"
)

var logger = applog.NewModuleLogger(applog.Store)

// Open connects to the MySQL datastore named by dsn and tunes the
// connection pool the way a long-running worker process should: small,
// bounded, and reused across the whole process lifetime.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.DB().SetMaxOpenConns(10)
	db.DB().SetMaxIdleConns(5)
	db.LogMode(false)
	return db, nil
}
