package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"webserver-bench/internal/results"

	"github.com/klauspost/compress/gzip"
)

const DefaultSpoolDir = "spool"

// SpoolArtifact archives a run together with the configuration that produced it.
type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID          string `json:"run_id"`
	Name           string `json:"name"`
	ConfigChecksum string `json:"config_checksum"`
	ConfigContent  string `json:"config_content"`

	Report *results.RunReport `json:"report"`
}

func BuildSpoolArtifact(report *results.RunReport, configContent string) *SpoolArtifact {
	return &SpoolArtifact{
		Version:        1,
		CreatedAt:      time.Now(),
		RunID:          report.RunID,
		Name:           report.Name,
		ConfigChecksum: report.ConfigChecksum,
		ConfigContent:  configContent,
		Report:         report,
	}
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact atomically and returns its path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.ConfigChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf(
		"run_%s_%s.json.gz",
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool artifact %s: %w", path, err)
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("failed to decode spool artifact %s: %w", path, err)
	}
	return &artifact, nil
}
