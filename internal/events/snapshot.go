package events

import (
	"sync"

	"github.com/italolelis/mediafetch/internal/progress"
)

// SnapshotStore keeps the latest progress record of every download for
// polling callers.
type SnapshotStore struct {
	mu      sync.RWMutex
	records map[string]progress.Record
	latest  string
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{records: make(map[string]progress.Record)}
}

// Publish implements Sink.
func (s *SnapshotStore) Publish(e Event) {
	if e.Record == nil || e.DownloadID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[e.DownloadID]; !ok {
		s.latest = e.DownloadID
	}

	s.records[e.DownloadID] = *e.Record
}

// Get returns the latest record of one download.
func (s *SnapshotStore) Get(downloadID string) (progress.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[downloadID]

	return r, ok
}

// Latest returns the record of the most recently started download.
func (s *SnapshotStore) Latest() (string, progress.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == "" {
		return "", progress.Record{}, false
	}

	return s.latest, s.records[s.latest], true
}

// Forget drops the record of one download.
func (s *SnapshotStore) Forget(downloadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, downloadID)

	if s.latest == downloadID {
		s.latest = ""
	}
}
