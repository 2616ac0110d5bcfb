package msbcomplete

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileStore is the atomic write-then-rename persistence for the pending-
// accepts table (§5: "written atomically each time the pending set
// changes, removed entirely when empty").
type fileStore struct {
	path string
}

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

func (s *fileStore) write(records []PendingAccept) error {
	if len(records) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove empty pending-accepts file: %w", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pending accepts: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".pending-accepts-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp pending-accepts file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp pending-accepts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp pending-accepts file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename pending-accepts file into place: %w", err)
	}
	return nil
}

func (s *fileStore) read() ([]PendingAccept, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending-accepts file: %w", err)
	}
	var records []PendingAccept
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse pending-accepts file: %w", err)
	}
	return records, nil
}
