package simulation

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// TrackRow is one agent at one timepoint in the track report.
type TrackRow struct {
	Time     int
	Position Vec3
	ID       ID
	ParentID ID
	Label    string
}

const trackHeader = "# TIME\tX\tY\tZ\tTRACK_ID\tPARENT_TRACK_ID\tLABEL\n"

// TrackReport writes agent tracks as tab-separated rows. Each track is
// followed by two blank lines so plotting tools treat it as its own block.
type TrackReport struct {
	mu     sync.Mutex
	w      *bufio.Writer
	header bool
}

// NewTrackReport returns a report writing to w. The caller owns w.
func NewTrackReport(w io.Writer) *TrackReport {
	return &TrackReport{w: bufio.NewWriter(w)}
}

// Write appends one track. Empty tracks are skipped.
func (r *TrackReport) Write(rows []TrackRow) error {
	if len(rows) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.header {
		if _, err := r.w.WriteString(trackHeader); err != nil {
			return err
		}
		r.header = true
	}
	for _, row := range rows {
		_, err := fmt.Fprintf(r.w, "%d\t%.4f\t%.4f\t%.4f\t%d\t%d\t%s\n",
			row.Time, row.Position.X, row.Position.Y, row.Position.Z,
			row.ID, row.ParentID, row.Label)
		if err != nil {
			return err
		}
	}
	_, err := r.w.WriteString("\n\n")
	return err
}

// Flush writes any buffered rows to the underlying writer.
func (r *TrackReport) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.Flush()
}
