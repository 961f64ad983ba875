package transfer

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

type Progress struct {
	Current    int64
	Total      int64
	Percentage int
}

// NewProgress computes the floor percentage. An empty transfer counts as
// complete.
func NewProgress(current, total int64) Progress {
	pct := 100
	if total > 0 {
		pct = int(current * 100 / total)
	}
	return Progress{Current: current, Total: total, Percentage: pct}
}

func (p Progress) String() string {
	return fmt.Sprintf("%s / %s (%d%%)",
		humanize.IBytes(uint64(p.Current)), humanize.IBytes(uint64(p.Total)), p.Percentage)
}
