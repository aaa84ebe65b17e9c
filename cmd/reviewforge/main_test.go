package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/ReviewForge/internal/service"
)

func TestOriginPatterns(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"http://localhost:3000", []string{"localhost:3000"}},
		{"https://review.example.org", []string{"review.example.org"}},
		{"*", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := originPatterns(tt.in)
		if len(got) != len(tt.want) || (len(got) == 1 && got[0] != tt.want[0]) {
			t.Errorf("originPatterns(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrintOverviewSortsByConflicts(t *testing.T) {
	var buf bytes.Buffer
	err := printOverview(&buf, &service.ConflictOverview{
		TotalDocuments: 3,
		Conflicts:      4,
		PerDocument:    map[string]int{"b": 1, "a": 1, "c": 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) < 4 || !strings.HasPrefix(lines[1], "c ") || !strings.HasPrefix(lines[2], "a ") {
		t.Errorf("unexpected order:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "4 conflicts across 3 documents") {
		t.Errorf("missing totals:\n%s", buf.String())
	}
}

func TestParseFlagTime(t *testing.T) {
	got, err := parseFlagTime("2025-03-01T10:00:00+01:00")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) || got.Location() != time.UTC {
		t.Errorf("parsed %v", got)
	}
	if got, err := parseFlagTime(""); got != nil || err != nil {
		t.Errorf("empty flag = %v, %v", got, err)
	}
	if _, err := parseFlagTime("yesterday"); err == nil {
		t.Error("expected error for malformed time")
	}
}

func TestCommandTree(t *testing.T) {
	root := (&cli{}).rootCmd()
	for _, name := range []string{"serve", "migrate", "export", "overview", "queue", "arbitrate", "undo", "history", "stats"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
