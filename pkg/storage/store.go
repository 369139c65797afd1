package storage

import (
	"github.com/vitrinehq/vitrine/pkg/types"
)

// Store defines the interface for pool history storage
// This will be implemented by BoltDB-backed storage
type Store interface {
	// Cast history
	SaveCastRecord(record *types.CastRecord) error
	GetCastRecord(id string) (*types.CastRecord, error)
	ListCastRecords() ([]*types.CastRecord, error)
	ListCastRecordsByDevice(address string) ([]*types.CastRecord, error)

	// Recovery log
	SaveRecoveryRecord(record *types.RecoveryRecord) error
	GetRecoveryRecord(id string) (*types.RecoveryRecord, error)
	ListRecoveryRecords() ([]*types.RecoveryRecord, error)
	ListRecoveryRecordsByDevice(address string) ([]*types.RecoveryRecord, error)

	// Health snapshots (latest probe result per device)
	SaveHealthRecord(address string, record *types.HealthRecord) error
	GetHealthRecord(address string) (*types.HealthRecord, error)
	ListHealthRecords() (map[string]*types.HealthRecord, error)

	// Utility
	Prune(maxCasts, maxRecoveries int) error
	Close() error
}
