package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/tidwall/pretty"

	"github.com/apparentlymart/registry-browser/internal/enrich"
)

func writeJSON(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = w.Write(pretty.Pretty(raw))
	return err
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func writeRepositoriesTable(w io.Writer, repos []enrich.RepositorySummary) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Repository", "Tags", "Last push"})
	for _, repo := range repos {
		t.AppendRow(table.Row{repo.Name, repo.TagCount, relativeTime(repo.LastPush)})
	}
	t.Render()
}

func writeTagsTable(w io.Writer, tags []enrich.TagDetail) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Tag", "Image ID", "Size", "Created", "Platform"})
	for _, tag := range tags {
		size := enrich.NoDigest
		if tag.Digest != enrich.NoDigest {
			size = humanize.Bytes(tag.SizeBytes)
		}
		platform := ""
		if tag.OS != nil && tag.Architecture != nil {
			platform = *tag.OS + "/" + *tag.Architecture
		}
		t.AppendRow(table.Row{tag.Name, shortDigest(tag.Digest), size, relativeTime(tag.CreatedAt), platform})
	}
	t.Render()
}

// relativeTime renders a registry timestamp relative to now, or returns it
// verbatim if it isn't in a format we understand.
func relativeTime(raw *string) string {
	if raw == nil {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, *raw)
	if err != nil {
		return *raw
	}
	return humanize.Time(t)
}

func shortDigest(s string) string {
	const prefix = "sha256:"
	if len(s) > len(prefix)+12 && s[:len(prefix)] == prefix {
		return s[len(prefix) : len(prefix)+12]
	}
	return s
}
