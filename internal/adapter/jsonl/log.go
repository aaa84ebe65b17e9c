// Package jsonl implements the review action log as a newline-delimited JSON
// file. It reads logs written by earlier tools and tolerates damaged lines.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/actionlog"
)

// Log is a file-backed actionlog.Log. A record's sequence number is its line
// number. Lines appended by other processes are picked up on the next call.
type Log struct {
	path  string
	fsync bool

	mu      sync.Mutex
	offset  int64
	lines   int64
	records []review.Record
	skipped int
}

var _ actionlog.Log = (*Log)(nil)

// Open returns a Log for path, creating parent directories as needed. The
// file itself is created on first append.
func Open(path string, fsync bool) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	l := &Log{path: path, fsync: fsync}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refreshLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

// Skipped returns the number of lines that could not be decoded.
func (l *Log) Skipped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skipped
}

// refreshLocked reads lines appended since the last call.
func (l *Log) refreshLocked() error {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log: %w", err)
	}
	if info.Size() < l.offset {
		// Truncated or replaced underneath us; start over.
		l.offset, l.lines, l.records, l.skipped = 0, 0, nil, 0
	}
	if info.Size() == l.offset {
		return nil
	}
	if _, err := f.Seek(l.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek log: %w", err)
	}

	rd := bufio.NewReader(f)
	for {
		line, err := rd.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] != '\n' {
			// Partial trailing line from a concurrent writer; retry later.
			break
		}
		if len(line) > 0 {
			l.offset += int64(len(line))
			l.lines++
			l.decodeLine(bytes.TrimSpace(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("read log: %w", err)
		}
	}
	return nil
}

func (l *Log) decodeLine(line []byte) {
	if len(line) == 0 {
		return
	}
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		l.skipped++
		slog.Warn("skipping undecodable log line", "path", l.path, "line", l.lines, "error", err)
		return
	}
	r := w.toRecord()
	r.Seq = l.lines
	if r.ID == "" {
		r.ID = "line-" + strconv.FormatInt(l.lines, 10)
	}
	l.records = append(l.records, r)
}

// Append writes r as one line and sets r.Seq.
func (l *Log) Append(_ context.Context, r *review.Record) error {
	if r.ID == "" {
		return errors.New("append record: id is required")
	}
	data, err := json.Marshal(fromRecord(r))
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.refreshLocked(); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) //nolint:gosec // path comes from configuration
	if err != nil {
		return fmt.Errorf("open log for append: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	if l.fsync {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return fmt.Errorf("sync log: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log: %w", err)
	}

	// Read our own line back so the in-memory view matches the file exactly.
	return l.refreshAfterAppend(r)
}

func (l *Log) refreshAfterAppend(r *review.Record) error {
	before := len(l.records)
	if err := l.refreshLocked(); err != nil {
		return err
	}
	for i := len(l.records) - 1; i >= before; i-- {
		if l.records[i].ID == r.ID {
			r.Seq = l.records[i].Seq
			r.CreatedAt = l.records[i].CreatedAt
			return nil
		}
	}
	return errors.New("appended record not found on re-read")
}

// Scan returns matching records ordered by creation time, then sequence.
func (l *Log) Scan(_ context.Context, f actionlog.Filter) ([]review.Record, error) {
	l.mu.Lock()
	if err := l.refreshLocked(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	var out []review.Record
	for i := range l.records {
		if f.Match(&l.records[i]) {
			out = append(out, l.records[i])
		}
	}
	l.mu.Unlock()

	review.SortRecords(out)
	return out, nil
}

// Head returns the latest line number belonging to documentID.
func (l *Log) Head(_ context.Context, documentID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refreshLocked(); err != nil {
		return 0, err
	}
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].DocumentID == documentID {
			return l.records[i].Seq, nil
		}
	}
	return 0, nil
}

// Documents lists every document id with its change marker.
func (l *Log) Documents(_ context.Context) ([]actionlog.DocumentHead, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refreshLocked(); err != nil {
		return nil, err
	}
	heads := make(map[string]*actionlog.DocumentHead)
	for i := range l.records {
		r := &l.records[i]
		if r.DocumentID == "" {
			continue
		}
		h, ok := heads[r.DocumentID]
		if !ok {
			h = &actionlog.DocumentHead{DocumentID: r.DocumentID}
			heads[r.DocumentID] = h
		}
		h.Count++
		if r.Seq > h.Seq {
			h.Seq = r.Seq
		}
	}
	out := make([]actionlog.DocumentHead, 0, len(heads))
	for _, h := range heads {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

// Participants returns the distinct actors per document.
func (l *Log) Participants(_ context.Context) (map[string][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refreshLocked(); err != nil {
		return nil, err
	}
	seen := make(map[string]map[string]struct{})
	for i := range l.records {
		r := &l.records[i]
		if r.DocumentID == "" || r.Actor == "" {
			continue
		}
		if seen[r.DocumentID] == nil {
			seen[r.DocumentID] = make(map[string]struct{})
		}
		seen[r.DocumentID][r.Actor] = struct{}{}
	}
	out := make(map[string][]string, len(seen))
	for doc, actors := range seen {
		list := make([]string, 0, len(actors))
		for a := range actors {
			list = append(list, a)
		}
		sort.Strings(list)
		out[doc] = list
	}
	return out, nil
}
