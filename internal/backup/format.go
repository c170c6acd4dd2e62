package backup

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FormatVersion is the archive format written by Write.
const FormatVersion = 1

// MaxDecompressedSize is the maximum allowed size of a decompressed payload (512MB).
const MaxDecompressedSize = 512 * 1024 * 1024

const (
	filePrefix = "cellsim-backup-"
	fileExt    = ".json.gz"
)

// Header is the plain JSON first line of an archive file. It can be read
// without touching the compressed payload that follows it.
type Header struct {
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Checksum  string            `json:"checksum"`
	SpotCount int               `json:"spot_count"`
	LinkCount int               `json:"link_count"`
	RunCount  int               `json:"run_count"`
	From      int               `json:"from"`
	To        int               `json:"to"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Write stores a as a header line followed by the gzip-compressed JSON
// payload. The checksum covers the compressed bytes.
func Write(path string, a *Archive, metadata map[string]string) (*Header, error) {
	var payload bytes.Buffer
	gzw := gzip.NewWriter(&payload)
	if err := json.NewEncoder(gzw).Encode(a); err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}

	h := &Header{
		Version:   FormatVersion,
		CreatedAt: a.CreatedAt,
		Checksum:  checksum(payload.Bytes()),
		SpotCount: len(a.Spots),
		LinkCount: len(a.Links),
		RunCount:  len(a.Runs),
		Metadata:  metadata,
	}
	for i, sp := range a.Spots {
		if i == 0 || sp.Time < h.From {
			h.From = sp.Time
		}
		if i == 0 || sp.Time > h.To {
			h.To = sp.Time
		}
	}
	line, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	w.Write(line)
	w.WriteByte('\n')
	w.Write(payload.Bytes())
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return h, f.Close()
}

// ReadHeader returns the header of the archive at path.
func ReadHeader(path string) (*Header, error) {
	h, _, err := open(path, false)
	return h, err
}

// Verify checks the payload checksum of the archive at path.
func Verify(path string) (*Header, error) {
	h, _, err := open(path, true)
	return h, err
}

// Read verifies and decodes the archive at path.
func Read(path string) (*Archive, error) {
	_, payload, err := open(path, true)
	if err != nil {
		return nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("opening payload: %w", err)
	}
	defer gzr.Close()

	data, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if len(data) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	if a.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported archive version: %d", a.Version)
	}
	return &a, nil
}

// open parses the header and, when withPayload is set, reads and checks
// the compressed payload.
func open(path string, withPayload bool) (*Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return nil, nil, fmt.Errorf("not a cellsim archive: %w", err)
	}
	if h.Version != FormatVersion {
		return nil, nil, fmt.Errorf("unsupported archive version: %d", h.Version)
	}
	if !withPayload {
		return &h, nil, nil
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading payload: %w", err)
	}
	if sum := checksum(payload); sum != h.Checksum {
		return nil, nil, fmt.Errorf("checksum mismatch: expected %s, got %s", h.Checksum, sum)
	}
	return &h, payload, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
