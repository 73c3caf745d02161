package store

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Metrics is a compact view of storage health for the telemetry gauges.
type Metrics struct {
	DiskBytes uint64
	Chats     int
	Groups    int
	Profiles  int
}

// GetMetrics returns best-effort storage metrics: on-disk size of the DB
// directory plus entity counts from a key scan.
func GetMetrics() Metrics {
	var m Metrics
	if db == nil {
		return m
	}
	if dbPath != "" {
		_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				m.DiskBytes += uint64(fi.Size())
			}
			return nil
		})
	}
	if keys, err := ListKeys("chat:"); err == nil {
		for _, k := range keys {
			if strings.HasSuffix(k, ":data") {
				m.Chats++
			}
		}
	}
	if keys, err := ListKeys("group:"); err == nil {
		m.Groups = len(keys)
	}
	if keys, err := ListKeys("user:"); err == nil {
		for _, k := range keys {
			if strings.HasSuffix(k, ":profile") {
				m.Profiles++
			}
		}
	}
	return m
}
