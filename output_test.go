package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/apparentlymart/registry-browser/internal/enrich"
)

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	created := "2024-03-01T10:00:00Z"
	err := writeJSON(&buf, []enrich.RepositorySummary{
		{Name: "team/app", LastPush: &created, TagCount: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\n") {
		t.Errorf("output is not indented:\n%s", buf.String())
	}
	if got := gjson.GetBytes(buf.Bytes(), "0.tag_count").Int(); got != 2 {
		t.Errorf("wrong tag_count %d", got)
	}
	if got := gjson.GetBytes(buf.Bytes(), "0.last_push").String(); got != created {
		t.Errorf("wrong last_push %q", got)
	}
}

func TestWriteTagsTable(t *testing.T) {
	var buf bytes.Buffer
	arch, os := "arm64", "linux"
	writeTagsTable(&buf, []enrich.TagDetail{
		enrich.FullTagDetail("v1", "sha256:0123456789abcdef0123", 2048, nil, &arch, &os),
		enrich.EmptyTagDetail("broken"),
	})
	out := buf.String()
	for _, want := range []string{"v1", "0123456789ab", "2.0 kB", "linux/arm64", "broken", enrich.NoDigest} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
}

func TestRelativeTime(t *testing.T) {
	if got := relativeTime(nil); got != "" {
		t.Errorf("wrong result for nil %q", got)
	}
	raw := "yesterday-ish"
	if got := relativeTime(&raw); got != raw {
		t.Errorf("wrong result for unparseable time %q", got)
	}
	recent := time.Now().Add(-3 * time.Hour).Format(time.RFC3339)
	if got := relativeTime(&recent); got != "3 hours ago" {
		t.Errorf("wrong result for recent time %q", got)
	}
}
