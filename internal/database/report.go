package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"webserver-bench/internal/results"
)

// WriteReport persists the report as indented JSON. The file either keeps its previous
// content or holds the complete new report: data goes to a temp file in the same
// directory, is fsynced and then renamed over path.
func WriteReport(path string, report *results.RunReport) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

func ReadReport(path string) (*results.RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report results.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &report, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	ok = true

	syncDir(dir)
	return nil
}

// syncDir makes the rename durable. Not every platform supports fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
