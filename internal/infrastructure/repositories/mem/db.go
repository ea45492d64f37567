package mem

import (
	"sort"
	"sync"

	"oidkeeper/internal/domain/models"
)

// record stored object
type record struct {
	data    []byte
	version models.Version
}

// MemDB in-memory database
type MemDB struct {
	records map[models.Oid]record
	mu      sync.RWMutex
}

// NewMemDB creates a new in-memory database
func NewMemDB() *MemDB {
	return &MemDB{
		records: make(map[models.Oid]record),
	}
}

// Get returns the record of oid
func (db *MemDB) Get(oid models.Oid) (record, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.records[oid]
	return r, ok
}

// Snapshot returns a copy of all records
func (db *MemDB) Snapshot() map[models.Oid]record {
	db.mu.RLock()
	defer db.mu.RUnlock()
	result := make(map[models.Oid]record, len(db.records))
	for k, v := range db.records {
		result[k] = v
	}
	return result
}

// Keys returns the oids of typeTag ordered by primary key
func (db *MemDB) Keys(typeTag string) []models.Oid {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var oids []models.Oid
	for oid := range db.records {
		if oid.TypeTag() == typeTag {
			oids = append(oids, oid)
		}
	}
	sort.Slice(oids, func(i, j int) bool {
		return oids[i].PrimaryKey() < oids[j].PrimaryKey()
	})
	return oids
}

// Len returns the number of records
func (db *MemDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.records)
}

// SetRecords replaces all records
func (db *MemDB) SetRecords(records map[models.Oid]record) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.records = records
}
