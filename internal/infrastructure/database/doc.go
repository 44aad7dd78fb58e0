// Package database provides the SQLite store behind device state history.
//
// This package manages:
//   - Opening the database with busy timeout and optional WAL mode
//   - Embedded schema migrations, one transaction per migration
//   - Health checks and connection lifecycle
//
// The database is optional (database.enabled) and only ever written by the
// state history recorder.
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
