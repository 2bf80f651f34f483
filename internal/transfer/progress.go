// Package transfer moves print files to devices and snapshots back from them.
package transfer

import (
	"io"
	"sync"

	"printlink-backend/internal/device"
)

// ProgressFunc receives de-duplicated transfer progress.
type ProgressFunc func(device.UploadProgress)

// ProgressTracker turns byte counts into integer-percent updates and only
// reports when the percentage changes.
type ProgressTracker struct {
	mu     sync.Mutex
	last   int
	report ProgressFunc
}

// NewProgressTracker creates a tracker. A nil report function is allowed.
func NewProgressTracker(report ProgressFunc) *ProgressTracker {
	return &ProgressTracker{last: -1, report: report}
}

// Reset forgets the last reported value so the next report always fires.
func (p *ProgressTracker) Reset() {
	p.mu.Lock()
	p.last = -1
	p.mu.Unlock()
}

// Report records sent of total bytes. It returns true when a report was pushed.
func (p *ProgressTracker) Report(sent, total int64) bool {
	percent := 0
	if total > 0 {
		percent = int(sent * 100 / total)
	}
	if percent > 100 {
		percent = 100
	}

	p.mu.Lock()
	if percent == p.last {
		p.mu.Unlock()
		return false
	}
	p.last = percent
	p.mu.Unlock()

	if p.report != nil {
		p.report(device.UploadProgress{
			Percent:     percent,
			Transferred: device.FormatSize(sent),
			Total:       device.FormatSize(total),
		})
	}
	return true
}

type countingReader struct {
	r       io.Reader
	sent    int64
	total   int64
	tracker *ProgressTracker
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		c.sent += int64(n)
		c.tracker.Report(c.sent, c.total)
	}
	return n, err
}
