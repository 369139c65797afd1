/*
Package storage provides BoltDB-backed persistence for pool history.

The storage package implements the Store interface using BoltDB as the
underlying database, keeping a durable record of finished casts, recovery
runs, and the latest probe result per device. The pool itself is
reconstructable from configuration at startup, so nothing here is needed
for correctness; the buckets exist so operators can answer "what happened
to that screen last night" after the fact. All data is serialized as JSON
and stored in separate buckets.

# Architecture

Vitrine uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            BoltStore                       │           │
	│  │  - File: <dataDir>/vitrine.db              │           │
	│  │  - Format: B+tree with MVCC                │           │
	│  │  - Transactions: ACID with fsync           │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │              Bucket Structure              │           │
	│  │  ┌────────────────────────────┐            │           │
	│  │  │ casts       (Cast ID)      │            │           │
	│  │  │ recoveries  (Recovery ID)  │            │           │
	│  │  │ health      (Device addr)  │            │           │
	│  │  └────────────────────────────┘            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │        Transaction Management              │           │
	│  │  - Read: db.View() - Concurrent reads      │           │
	│  │  - Write: db.Update() - Serialized writes  │           │
	│  │  - Rollback: Automatic on error            │           │
	│  │  - Commit: Automatic on success + fsync    │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store interface using BoltDB
  - Single database file per daemon
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

Buckets:
  - casts: History rows for finished casts (one per cast)
  - recoveries: History rows for recovery runs, successful or not
  - health: Latest probe result per device, overwritten in place

Ordering:
  - Rows are keyed by ID, so bucket iteration order is not chronological
  - List operations sort by StartedAt before returning
  - Prune drops the oldest rows first

# Usage

Creating a store:

	store, err := storage.NewBoltStore("/var/lib/vitrine")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Recording a finished cast:

	err := store.SaveCastRecord(&types.CastRecord{
		ID:         cast.ID,
		DeviceAddr: cast.DeviceAddr,
		Target:     cast.Target,
		StartedAt:  cast.StartedAt,
		EndedAt:    time.Now(),
		Outcome:    types.CastOutcomeCompleted,
	})

Querying history for one device:

	records, err := store.ListCastRecordsByDevice("10.0.0.5:4242")
	for _, r := range records {
		fmt.Printf("%s %s -> %s\n", r.StartedAt, r.Target, r.Outcome)
	}

Bounding growth:

	// Keep the newest 1000 casts and 1000 recovery rows
	err := store.Prune(1000, 1000)

# Best Practices

 1. Always call Close() on shutdown to release the file lock
 2. Run Prune periodically; the buckets grow without it
 3. Treat the database as disposable - deleting it loses history only
 4. Keep the data directory on local disk, not NFS

# Troubleshooting

Database Locked:
  - Symptom: "database is locked" error
  - Cause: Another process has exclusive lock
  - Solution: Ensure only one daemon uses the data directory
  - Check: No dangling processes holding the file

Large Database File:
  - Symptom: Database file grows over time
  - Cause: Prune not running, deleted keys leave free pages
  - Solution: Enable pruning; copy-compact the file if needed

# See Also

  - pkg/pool for the components that write these records
  - pkg/types for CastRecord, RecoveryRecord, HealthRecord
  - pkg/api for the HTTP endpoints that expose history
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
