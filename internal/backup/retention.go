package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// BackupInfo describes an archive file on disk.
type BackupInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	SpotCount int       `json:"spot_count"`
}

// RetentionPolicy selects the archives to keep from a newest-first list.
type RetentionPolicy interface {
	Apply(backups []BackupInfo) (keep []BackupInfo)
}

// CountPolicy keeps the MaxCount newest archives.
type CountPolicy struct {
	MaxCount int
}

func (p CountPolicy) Apply(backups []BackupInfo) []BackupInfo {
	return backups[:min(len(backups), max(p.MaxCount, 0))]
}

// AgePolicy keeps archives younger than MaxAge.
type AgePolicy struct {
	MaxAge time.Duration
}

func (p AgePolicy) Apply(backups []BackupInfo) []BackupInfo {
	cutoff := time.Now().Add(-p.MaxAge)
	var keep []BackupInfo
	for _, b := range backups {
		if b.CreatedAt.After(cutoff) {
			keep = append(keep, b)
		}
	}
	return keep
}

// AnyPolicy keeps an archive if any of its policies keeps it.
type AnyPolicy []RetentionPolicy

func (p AnyPolicy) Apply(backups []BackupInfo) []BackupInfo {
	kept := make(map[string]bool)
	for _, policy := range p {
		for _, b := range policy.Apply(backups) {
			kept[b.Path] = true
		}
	}
	var out []BackupInfo
	for _, b := range backups {
		if kept[b.Path] {
			out = append(out, b)
		}
	}
	return out
}

// ListBackups returns the archives in dir, newest first. Files that do
// not carry a readable header are skipped.
func ListBackups(dir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []BackupInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		path := filepath.Join(dir, name)
		h, err := ReadHeader(path)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{
			Path:      path,
			Size:      info.Size(),
			CreatedAt: h.CreatedAt,
			SpotCount: h.SpotCount,
		})
	}

	slices.SortFunc(out, func(a, b BackupInfo) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Path, a.Path)
	})
	return out, nil
}

// ApplyRetention deletes the archives in dir that policy does not keep.
func ApplyRetention(dir string, policy RetentionPolicy) ([]string, error) {
	backups, err := ListBackups(dir)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool)
	for _, b := range policy.Apply(backups) {
		keep[b.Path] = true
	}

	var deleted []string
	for _, b := range backups {
		if keep[b.Path] {
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(b.Path), err)
		}
		deleted = append(deleted, b.Path)
	}
	return deleted, nil
}

// ParseDuration accepts Go durations plus day and week suffixes ("30d", "2w").
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	switch s[len(s)-1] {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown duration suffix in %q (use h, d or w)", s)
}
