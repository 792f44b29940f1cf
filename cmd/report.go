package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"reelcast/internal/metadata"
	"reelcast/internal/upload"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).MarginBottom(1)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(13)
)

// progressReporter prints the start notice, one line per acknowledged chunk,
// and the final result.
type progressReporter struct {
	w           io.Writer
	lastPercent int
}

func newProgressReporter(w io.Writer) *progressReporter {
	return &progressReporter{w: w, lastPercent: -1}
}

func (r *progressReporter) start(path string) {
	fmt.Fprintln(r.w, infoStyle.Render("Uploading "+path))
}

func (r *progressReporter) report(p upload.Progress) {
	percent := int(p.Fraction() * 100)
	if percent == r.lastPercent {
		return
	}
	r.lastPercent = percent

	fmt.Fprintf(r.w, "  %3d%%  %s / %s\n",
		percent,
		humanize.IBytes(uint64(p.Sent)),
		humanize.IBytes(uint64(p.Total)),
	)
}

func (r *progressReporter) finish(o upload.Outcome) {
	if o.Succeeded() {
		fmt.Fprintln(r.w, successStyle.Render("✓ Uploaded: "+o.URL))
		return
	}
	fmt.Fprintln(r.w, errorStyle.Render(fmt.Sprintf("✗ Upload failed [%s]: %s", o.Kind(), failureReason(o))))
}

func failureReason(o upload.Outcome) string {
	if o.Err == nil {
		return "no video id returned"
	}
	var b strings.Builder
	b.WriteString(o.Err.Error())
	if upload.KindOf(o.Err) == upload.KindQuota {
		b.WriteString(" (daily upload quota reached, try again tomorrow)")
	}
	return b.String()
}

func printMetadata(w io.Writer, m metadata.Metadata) {
	fmt.Fprintln(w, titleStyle.Render("Upload preview"))
	row := func(label, value string) {
		fmt.Fprintln(w, labelStyle.Render(label)+value)
	}
	row("Title", m.Title)
	row("Visibility", string(m.Visibility))
	row("Category", m.Category)
	row("Made for kids", fmt.Sprintf("%t", m.MadeForKids))
	row("Tags", strings.Join(m.Tags, ", "))
	fmt.Fprintln(w)
	fmt.Fprintln(w, m.Description)
}
