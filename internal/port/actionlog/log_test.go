package actionlog_test

import (
	"testing"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/actionlog"
)

func TestFilterMatch(t *testing.T) {
	ts := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	r := review.Record{DocumentID: "d1", Actor: "Amy@X.org", Action: review.ActionAdd, CreatedAt: ts}

	before, after := ts.Add(-time.Hour), ts.Add(time.Hour)
	tests := []struct {
		name string
		f    actionlog.Filter
		want bool
	}{
		{"empty", actionlog.Filter{}, true},
		{"document", actionlog.Filter{DocumentID: "d1"}, true},
		{"other document", actionlog.Filter{DocumentID: "d2"}, false},
		{"actor case folded", actionlog.Filter{Actor: "amy@x.org"}, true},
		{"action list", actionlog.Filter{Actions: []review.Action{review.ActionAccept, review.ActionAdd}}, true},
		{"action excluded", actionlog.Filter{Actions: []review.Action{review.ActionReject}}, false},
		{"inside window", actionlog.Filter{Since: &before, Until: &after}, true},
		{"before window", actionlog.Filter{Since: &after}, false},
		{"after window", actionlog.Filter{Until: &before}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Match(&r); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}
