// Package db opens and migrates Conductor's audit database.
package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/conductor/internal/config"
)

// Connect opens a GORM connection for the configured backend: sqlite for
// single-host deployments (the default), mysql when several daemons share
// an audit store.
func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch cfg.Driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.Path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", cfg.Path, err)
		}
		return db, nil
	case "mysql":
		dsn := DSN(cfg)
		db, err := gorm.Open(mysql.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// DSN builds a MySQL DSN from the config.
func DSN(cfg config.DBConfig) string {
	user := cfg.User
	if user == "" {
		user = "root"
	}
	cred := user
	if cfg.Password != "" {
		cred += ":" + cfg.Password
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", cred, cfg.Host, cfg.Port, cfg.Database)
}
