package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ecocash/internal/model"
)

// FileSink is the journal bus for the local mirror backend: entries are
// appended as JSON lines next to the collection snapshots, so a partial
// transfer is still discoverable after a restart.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{path: filepath.Join(dir, "journal.jsonl")}
}

func (s *FileSink) Publish(subject string, data []byte) error {
	if subject != JournalSubject {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open journal: %v", model.ErrBackendUnavailable, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: append journal: %v", model.ErrBackendUnavailable, err)
	}
	return nil
}
