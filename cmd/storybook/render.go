package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storybook/internal/backend"
	"storybook/internal/jobs"
	"storybook/internal/manifest"
	"storybook/internal/orchestrator"
	"storybook/internal/preflight"
	"storybook/internal/regen"
	"storybook/internal/textutil"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiBold  = "\x1b[1m"
)

const narrationWidth = 48

var titleCaser = cases.Title(language.Und)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// formatLogLine highlights FATAL lines when writing to a terminal.
func formatLogLine(line string, colorize bool) string {
	if colorize && jobs.IsFatalLine(line) {
		return ansiBold + ansiRed + line + ansiReset
	}
	return line
}

func colorText(s, color string, colorize bool) string {
	if !colorize {
		return s
	}
	return color + s + ansiReset
}

// pageLabel turns a page key into a display label: "title" becomes "Title",
// "page_3" becomes "Page 3".
func pageLabel(key string) string {
	index, err := regen.ParsePageKey(key)
	if err != nil {
		return key
	}
	if index == 0 {
		return titleCaser.String(regen.TitleKey)
	}
	return titleCaser.String("page") + " " + strconv.Itoa(index)
}

func renderTiles(tiles []orchestrator.Tile, client *backend.Client) string {
	rows := make([][]string, 0, len(tiles))
	for _, tile := range tiles {
		regenState := "-"
		if tile.Regen != nil {
			regenState = string(tile.Regen.Job.Status)
			if tile.Regen.Err != "" {
				regenState = "error: " + tile.Regen.Err
			}
		}
		rows = append(rows, []string{
			pageLabel(tile.Key),
			client.ResolveURL(tile.Image),
			strconv.FormatInt(tile.Version, 10),
			regenState,
		})
	}
	return renderTable([]column{
		{header: "Page"},
		{header: "Image"},
		{header: "Version", align: alignRight},
		{header: "Regeneration"},
	}, rows)
}

func renderPlan(uploads []manifest.PlannedUpload) string {
	rows := make([][]string, 0, len(uploads))
	for i, upload := range uploads {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			titleCaser.String(upload.Role),
			upload.StorageSlug(),
			upload.Path,
			upload.File.Name,
		})
	}
	return renderTable([]column{
		{header: "#", align: alignRight},
		{header: "Role"},
		{header: "Slug"},
		{header: "Stored As"},
		{header: "Source"},
	}, rows)
}

func renderPages(pages []manifest.PageSpec) string {
	rows := make([][]string, 0, len(pages))
	for i, page := range pages {
		rows = append(rows, []string{
			pageLabel(regen.PageKey(i + 1)),
			textutil.Ellipsize(page.RawNarrationText, narrationWidth),
			strings.Join(page.IncludeCharacters, ", "),
			page.Location,
			strconv.Itoa(page.DurationSeconds) + "s",
		})
	}
	return renderTable([]column{
		{header: "Page"},
		{header: "Narration", maxWidth: narrationWidth},
		{header: "Characters"},
		{header: "Location"},
		{header: "Duration", align: alignRight},
	}, rows)
}

func renderPreflight(results []preflight.Result, colorize bool) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := colorText("OK", ansiGreen, colorize)
		if !r.Passed {
			status = colorText("FAIL", ansiRed, colorize)
		}
		rows = append(rows, []string{r.Name, status, r.Detail})
	}
	return renderTable([]column{
		{header: "Check"},
		{header: "Status"},
		{header: "Detail"},
	}, rows)
}

func renderOutputs(out *backend.Outputs, client *backend.Client) string {
	if out == nil {
		return ""
	}
	var rows [][]string
	add := func(label, ref string) {
		if strings.TrimSpace(ref) != "" {
			rows = append(rows, []string{label, client.ResolveURL(ref)})
		}
	}
	add("PDF", out.PDF)
	add("Video", out.Video)
	return renderTable([]column{{header: "Output"}, {header: "URL"}}, rows)
}

// logPrinter prints job log lines that have not been printed yet.
type logPrinter struct {
	out      io.Writer
	colorize bool
	printed  map[string]int
}

func newLogPrinter(out io.Writer) *logPrinter {
	return &logPrinter{out: out, colorize: shouldColorize(out), printed: make(map[string]int)}
}

func (p *logPrinter) print(snap *jobs.Snapshot) {
	if snap == nil {
		return
	}
	seen := p.printed[snap.ID]
	if seen > len(snap.Log) {
		seen = 0
	}
	for _, line := range snap.Log[seen:] {
		fmt.Fprintf(p.out, "[%s %3d%%] %s\n", snap.Kind, snap.Progress, formatLogLine(line, p.colorize))
	}
	p.printed[snap.ID] = len(snap.Log)
}
