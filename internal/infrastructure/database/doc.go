// Package database opens the hub's SQLite database and applies embedded
// schema migrations.
//
// The database holds only the state-change audit log. Device state itself is
// in memory and is never reloaded from here.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and each one is applied in its own transaction.
package database
