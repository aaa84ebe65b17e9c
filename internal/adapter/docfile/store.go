// Package docfile serves source documents from a newline-delimited JSON file.
// The file is re-read whenever its modification time changes.
package docfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/documents"
)

// maxLine bounds a single document line.
const maxLine = 16 << 20

type wireDocument struct {
	ID              json.RawMessage `json:"id"`
	PMID            json.RawMessage `json:"pmid"`
	Title           string          `json:"title"`
	SentenceResults []wireSentence  `json:"sentence_results"`
	Sentences       []wireSentence  `json:"sentences"`
}

type wireSentence struct {
	Index      int             `json:"sentence_index"`
	Sentence   string          `json:"sentence"`
	Text       string          `json:"text"`
	Assertions []wireAssertion `json:"assertions"`
}

type wireAssertion struct {
	Subject     string          `json:"subject"`
	SubjectType string          `json:"subject_type"`
	Predicate   string          `json:"predicate"`
	Object      string          `json:"object"`
	ObjectType  string          `json:"object_type"`
	Negation    json.RawMessage `json:"negation"`
}

// Store implements documents.Store.
type Store struct {
	path string

	mu    sync.Mutex
	mtime time.Time
	size  int64
	ids   []string
	index map[string]*documents.Document
}

var _ documents.Store = (*Store)(nil)

// New returns a Store reading path. A missing file is an empty store.
func New(path string) *Store {
	return &Store{path: path}
}

// ListDocumentIDs returns document ids in file order.
func (s *Store) ListDocumentIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	return append([]string(nil), s.ids...), nil
}

// GetDocument returns the document with the given id.
func (s *Store) GetDocument(_ context.Context, id string) (*documents.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	d, ok := s.index[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	cp := *d
	cp.Sentences = append([]documents.Sentence(nil), d.Sentences...)
	return &cp, nil
}

func (s *Store) reloadLocked() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mtime, s.size, s.ids, s.index = time.Time{}, 0, nil, nil
			return nil
		}
		return fmt.Errorf("stat documents: %w", err)
	}
	if s.index != nil && info.ModTime().Equal(s.mtime) && info.Size() == s.size {
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open documents: %w", err)
	}
	defer func() { _ = f.Close() }()

	ids := make([]string, 0)
	index := make(map[string]*documents.Document)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		doc, err := decodeDocument(line)
		if err != nil {
			slog.Warn("skipping undecodable document line", "path", s.path, "line", lineNo, "error", err)
			continue
		}
		if _, dup := index[doc.ID]; !dup {
			ids = append(ids, doc.ID)
		}
		index[doc.ID] = doc
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read documents: %w", err)
	}

	s.mtime, s.size, s.ids, s.index = info.ModTime(), info.Size(), ids, index
	return nil
}

func decodeDocument(line []byte) (*documents.Document, error) {
	var w wireDocument
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, err
	}
	id := rawID(w.ID)
	if id == "" {
		id = rawID(w.PMID)
	}
	if id == "" {
		return nil, errors.New("document has no id")
	}

	sents := w.SentenceResults
	if sents == nil {
		sents = w.Sentences
	}
	doc := &documents.Document{ID: id, Title: w.Title}
	for _, ws := range sents {
		s := documents.Sentence{Index: ws.Index, Text: ws.Sentence}
		if s.Text == "" {
			s.Text = ws.Text
		}
		for _, a := range ws.Assertions {
			s.Assertions = append(s.Assertions, review.Content{
				Subject:     a.Subject,
				SubjectType: a.SubjectType,
				Predicate:   a.Predicate,
				Object:      a.Object,
				ObjectType:  a.ObjectType,
				Negation:    rawBool(a.Negation),
			})
		}
		doc.Sentences = append(doc.Sentences, s)
	}
	sort.SliceStable(doc.Sentences, func(i, j int) bool { return doc.Sentences[i].Index < doc.Sentences[j].Index })
	return doc, nil
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if json.Unmarshal(raw, &str) != nil {
			return ""
		}
		return strings.TrimSpace(str)
	}
	return s
}

func rawBool(raw json.RawMessage) bool {
	v, err := strconv.ParseBool(strings.Trim(strings.TrimSpace(string(raw)), `"`))
	return err == nil && v
}
