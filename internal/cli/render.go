package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/OptikR/OptikR-sub005/internal/overlay"
	"github.com/OptikR/OptikR-sub005/pipeline"
	"github.com/OptikR/OptikR-sub005/pool"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printSection(w io.Writer, title string, lines ...string) {
	_, _ = fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, title)
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 60))
	for _, l := range lines {
		_, _ = fmt.Fprintln(w, l)
	}
}

// formatNumber groups digits in thousands: 1234567 -> 1,234,567.
func formatNumber(n uint64) string {
	s := strconv.FormatUint(n, 10)
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "0"
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

func renderPipelineStats(w io.Writer, s pipeline.Stats) error {
	printSection(w, "PIPELINE",
		fmt.Sprintf("Submitted: %s  Completed: %s  Failed: %s  Pending: %s  Rejected: %s",
			formatNumber(s.Submitted), formatNumber(s.Completed), formatNumber(s.Failed),
			formatNumber(s.Pending), formatNumber(s.Rejected)))

	table := tablewriter.NewWriter(w)
	table.Header("Stage", "Received", "Processed", "Failed", "Passed", "Retries", "Batches", "Avg Batch", "Avg Latency")
	for _, st := range s.Stages {
		avgBatch := "-"
		if st.Batch != nil {
			avgBatch = fmt.Sprintf("%.1f (max %d)", st.Batch.AvgBatchSize(), st.Batch.MaxBatchSize)
		}
		_ = table.Append(
			st.Name,
			formatNumber(st.Received),
			formatNumber(st.Processed),
			formatNumber(st.Failed),
			formatNumber(st.PassedThrough),
			formatNumber(st.Retries),
			formatNumber(st.Batches),
			avgBatch,
			formatDuration(st.AvgLatency),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	if a := s.Admission; a != nil {
		printSection(w, "ADMISSION",
			fmt.Sprintf("Dequeued: %s  Rejected: %s  Promoted by aging: %s  Avg wait: %s",
				formatNumber(a.Dequeued), formatNumber(a.Rejected), formatNumber(a.Promoted), formatDuration(a.AvgWait)))
	}
	return nil
}

func renderPoolStats(w io.Writer, s pool.Stats) error {
	printSection(w, "TRANSLATION POOL",
		fmt.Sprintf("Completed: %s  Failed: %s  Stolen: %s  Steal rate: %.1f%%",
			formatNumber(s.Completed), formatNumber(s.Failed), formatNumber(s.Stolen), s.StealRate*100))

	table := tablewriter.NewWriter(w)
	table.Header("Worker", "Completed", "Failed", "Stolen", "Queued")
	for _, ws := range s.Workers {
		_ = table.Append(
			strconv.Itoa(ws.ID),
			formatNumber(ws.Completed),
			formatNumber(ws.Failed),
			formatNumber(ws.Stolen),
			strconv.Itoa(ws.Queued),
		)
	}
	return table.Render()
}

func renderCacheStats(w io.Writer, s overlay.CacheStats) {
	total := s.Hits + s.Misses
	rate := 0.0
	if total > 0 {
		rate = float64(s.Hits) / float64(total) * 100
	}
	printSection(w, "TRANSLATION CACHE",
		fmt.Sprintf("Entries: %d  Hits: %s  Misses: %s  Hit rate: %.1f%%",
			s.Size, formatNumber(s.Hits), formatNumber(s.Misses), rate))
}
