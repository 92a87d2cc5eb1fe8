package database

import (
	"database/sql"
	"fmt"
	"time"

	"kanban/config"
	"kanban/pkg/logger"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	connectAttempts = 5
	retryDelay      = 2 * time.Second
)

// Open connects to the journal database and pings it, retrying a few times
// in case of temporary network blips.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == config.DriverSQLite {
		// One writer at a time; WAL keeps readers unblocked.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	for i := 0; i < connectAttempts; i++ {
		if err = db.Ping(); err == nil {
			logger.Sugar.Infof("Successfully connected to the %s journal database", driver)
			return db, nil
		}
		logger.Sugar.Infof("Database connection failed, retrying in %s... (%v)", retryDelay, err)
		time.Sleep(retryDelay)
	}
	db.Close()
	return nil, fmt.Errorf("could not connect to %s database after %d attempts: %w", driver, connectAttempts, err)
}

func driverName(driver string) string {
	if driver == config.DriverPostgres {
		return "postgres"
	}
	return "sqlite"
}
