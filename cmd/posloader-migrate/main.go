// Command posloader-migrate applies (or reports the status of) the
// position store's goose schema migrations against a Postgres database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ledgerbase/posloader/pkg/positionstore"
)

var (
	dsn    = flag.String("dsn", os.Getenv("POSLOADER_POSTGRES_DSN"), "Postgres connection string")
	status = flag.Bool("status", false, "Report the current schema version instead of migrating")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *dsn == "" {
		log.Fatal("--dsn (or POSLOADER_POSTGRES_DSN) is required")
	}

	if *status {
		version, err := positionstore.MigrateStatus(*dsn)
		if err != nil {
			log.Fatalf("get migration status: %v", err)
		}
		fmt.Printf("schema version: %d\n", version)
		return
	}

	log.Println("applying position store migrations...")
	if err := positionstore.Migrate(*dsn); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("migrations applied")
}
