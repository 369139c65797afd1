package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/vitrinehq/vitrine/pkg/storage"
)

var (
	dataDir       = flag.String("data-dir", "/var/lib/vitrine", "Vitrine data directory")
	maxCasts      = flag.Int("max-casts", 1000, "Cast records to keep (0 keeps all)")
	maxRecoveries = flag.Int("max-recoveries", 1000, "Recovery records to keep (0 keeps all)")
	dryRun        = flag.Bool("dry-run", false, "Show what would be pruned without making changes")
	backupPath    = flag.String("backup", "", "Path to backup the database before pruning (default: <data-dir>/vitrine.db.backup)")
)

// Offline maintenance for the history database. Stop the daemon first;
// the database takes a single-process lock.
func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("Vitrine History Pruning Tool")
	log.Println("============================")

	dbPath := filepath.Join(*dataDir, "vitrine.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Keep: %d casts, %d recoveries", *maxCasts, *maxRecoveries)
	log.Printf("Dry run: %v", *dryRun)

	// Create backup unless in dry-run mode
	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created successfully")
	}

	store, err := storage.NewBoltStore(*dataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	casts, err := store.ListCastRecords()
	if err != nil {
		log.Fatalf("Failed to list cast records: %v", err)
	}
	recoveries, err := store.ListRecoveryRecords()
	if err != nil {
		log.Fatalf("Failed to list recovery records: %v", err)
	}

	dropCasts := overflow(len(casts), *maxCasts)
	dropRecoveries := overflow(len(recoveries), *maxRecoveries)
	log.Printf("Found %d cast records (%d to prune)", len(casts), dropCasts)
	log.Printf("Found %d recovery records (%d to prune)", len(recoveries), dropRecoveries)

	if dropCasts == 0 && dropRecoveries == 0 {
		log.Println("✓ Nothing to prune")
		return
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to prune the oldest records.")
		return
	}

	if err := store.Prune(*maxCasts, *maxRecoveries); err != nil {
		log.Fatalf("Pruning failed: %v", err)
	}

	log.Printf("\n✓ Pruned %d cast and %d recovery records", dropCasts, dropRecoveries)
	log.Println("The backup holds the pre-prune state if you need to roll back.")
}

func overflow(have, keep int) int {
	if keep <= 0 || have <= keep {
		return 0
	}
	return have - keep
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
