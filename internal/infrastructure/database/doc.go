// Package database opens the SQLite file that backs the device ledger and
// applies its schema migrations.
//
// Migrations are embedded into the binary by the top-level migrations
// package, which sets MigrationsFS from an init function.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        "./data/devledger.db",
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// All ledger queries use parameterised statements and the database file is
// created with mode 0600.
package database
