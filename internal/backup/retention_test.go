package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func infos(ages ...time.Duration) []BackupInfo {
	now := time.Now()
	out := make([]BackupInfo, len(ages))
	for i, age := range ages {
		out[i] = BackupInfo{Path: filepath.Join("/b", string(rune('a'+i))), CreatedAt: now.Add(-age)}
	}
	return out
}

func TestCountPolicy(t *testing.T) {
	backups := infos(0, time.Hour, 2*time.Hour)

	tests := []struct {
		max  int
		want int
	}{
		{0, 0},
		{2, 2},
		{5, 3},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := len(CountPolicy{MaxCount: tt.max}.Apply(backups)); got != tt.want {
			t.Errorf("CountPolicy{%d} kept %d, want %d", tt.max, got, tt.want)
		}
	}
}

func TestAgePolicy(t *testing.T) {
	backups := infos(time.Hour, 3*24*time.Hour, 10*24*time.Hour)

	kept := AgePolicy{MaxAge: 7 * 24 * time.Hour}.Apply(backups)
	if len(kept) != 2 {
		t.Fatalf("kept %d, want 2", len(kept))
	}
	if kept[1].Path != backups[1].Path {
		t.Errorf("kept %v", kept)
	}
}

func TestAnyPolicy_IsUnion(t *testing.T) {
	backups := infos(time.Hour, 2*time.Hour, 30*24*time.Hour, 40*24*time.Hour)

	p := AnyPolicy{CountPolicy{MaxCount: 1}, AgePolicy{MaxAge: 3 * time.Hour}}
	if got := len(p.Apply(backups)); got != 2 {
		t.Errorf("kept %d, want 2", got)
	}

	p = AnyPolicy{CountPolicy{MaxCount: 3}, AgePolicy{MaxAge: time.Minute}}
	if got := len(p.Apply(backups)); got != 3 {
		t.Errorf("kept %d, want 3", got)
	}
}

func TestListBackupsAndApplyRetention(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		a := testArchive()
		a.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		name := filePrefix + a.CreatedAt.Format("20060102-150405") + fileExt
		if _, err := Write(filepath.Join(dir, name), a, nil); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	// ignored: wrong name, and right name without a header
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600)
	os.WriteFile(filepath.Join(dir, filePrefix+"broken"+fileExt), []byte("x"), 0600)

	backups, err := ListBackups(dir)
	if err != nil {
		t.Fatalf("ListBackups() error = %v", err)
	}
	if len(backups) != 4 {
		t.Fatalf("ListBackups() found %d, want 4", len(backups))
	}
	if !backups[0].CreatedAt.Equal(base.Add(3 * time.Hour)) {
		t.Errorf("newest first: got %v", backups[0].CreatedAt)
	}
	if backups[0].SpotCount != 3 {
		t.Errorf("SpotCount = %d, want 3", backups[0].SpotCount)
	}

	deleted, err := ApplyRetention(dir, CountPolicy{MaxCount: 2})
	if err != nil {
		t.Fatalf("ApplyRetention() error = %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted %d, want 2", len(deleted))
	}
	backups, _ = ListBackups(dir)
	if len(backups) != 2 {
		t.Errorf("%d backups left, want 2", len(backups))
	}
}

func TestListBackups_MissingDir(t *testing.T) {
	backups, err := ListBackups(filepath.Join(t.TempDir(), "missing"))
	if err != nil || backups != nil {
		t.Errorf("ListBackups() = %v, %v; want nil, nil", backups, err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"720h", 720 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"", 0, true},
		{"d", 0, true},
		{"5y", 0, true},
		{"-3d", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
