package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	job    interfaces.JobStorage
	result interfaces.ResultStorage
	event  interfaces.EventStorage
	dedup  interfaces.DedupStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		job:    NewJobStorage(db, logger),
		result: NewResultStorage(db, logger),
		event:  NewEventStorage(db, logger),
		dedup:  NewDedupStorage(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// ResultStorage returns the PageResult storage interface
func (m *Manager) ResultStorage() interfaces.ResultStorage {
	return m.result
}

// EventStorage returns the Event storage interface
func (m *Manager) EventStorage() interfaces.EventStorage {
	return m.event
}

// DedupStorage returns the Dedup storage interface
func (m *Manager) DedupStorage() interfaces.DedupStorage {
	return m.dedup
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
