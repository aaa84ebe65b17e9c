package review

import (
	"sort"
	"time"
)

// KeySource tells which identifier decided a record's lifecycle key.
type KeySource uint8

const (
	SourceContentHash KeySource = iota + 1
	SourceBackRef
	SourceAssertionID
	SourceAddContent
	SourceLastAdd
	SourceContent
	SourceSingleton
)

func (s KeySource) String() string {
	switch s {
	case SourceContentHash:
		return "content_hash"
	case SourceBackRef:
		return "back_ref"
	case SourceAssertionID:
		return "assertion_id"
	case SourceAddContent:
		return "add_content"
	case SourceLastAdd:
		return "last_add"
	case SourceContent:
		return "content"
	case SourceSingleton:
		return "singleton"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s KeySource) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode to
// the zero KeySource.
func (s *KeySource) UnmarshalText(b []byte) error {
	*s = 0
	for k := SourceContentHash; k <= SourceSingleton; k++ {
		if k.String() == string(b) {
			*s = k
			return nil
		}
	}
	return nil
}

// Resolution is the outcome of resolving one record.
type Resolution struct {
	Key    string
	Source KeySource
}

// Lifecycle is the ordered set of records describing one assertion.
type Lifecycle struct {
	Key        string    `json:"key"`
	Source     KeySource `json:"source"`
	DocumentID string    `json:"document_id"`
	Records    []Record  `json:"records"`
}

// LastUpdated returns the creation time of the newest record.
func (l *Lifecycle) LastUpdated() time.Time {
	if len(l.Records) == 0 {
		return time.Time{}
	}
	return l.Records[len(l.Records)-1].CreatedAt
}

// Resolver assigns lifecycle keys to the records of a single document in
// creation order. It is not safe for concurrent use.
type Resolver struct {
	aliases    map[string]string
	lastAddKey string
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{aliases: make(map[string]string)}
}

// Resolve determines the lifecycle key of r and records r's identifiers as
// aliases of that key.
func (rv *Resolver) Resolve(r *Record) Resolution {
	res := rv.resolve(r)
	for _, id := range []string{r.ID, r.AssertionID, r.ContentHash, res.Key} {
		if id != "" {
			if _, ok := rv.aliases[id]; !ok {
				rv.aliases[id] = res.Key
			}
		}
	}
	if r.Action == ActionAdd {
		rv.lastAddKey = res.Key
	}
	return res
}

func (rv *Resolver) resolve(r *Record) Resolution {
	explicit := []struct {
		id  string
		src KeySource
	}{
		{r.ContentHash, SourceContentHash},
		{r.RelatedTo, SourceBackRef},
		{r.AssertionID, SourceAssertionID},
	}
	for _, e := range explicit {
		if e.id == "" {
			continue
		}
		if key, ok := rv.aliases[e.id]; ok {
			return Resolution{Key: key, Source: e.src}
		}
	}
	for _, e := range explicit {
		if e.id != "" {
			return Resolution{Key: e.id, Source: e.src}
		}
	}

	if r.Action == ActionAdd {
		return Resolution{Key: r.Content.Key(), Source: SourceAddContent}
	}
	if rv.lastAddKey != "" {
		return Resolution{Key: rv.lastAddKey, Source: SourceLastAdd}
	}
	if !r.Content.IsEmpty() {
		return Resolution{Key: r.Content.Key(), Source: SourceContent}
	}
	return Resolution{Key: "record:" + r.ID, Source: SourceSingleton}
}

// SortRecords orders records by creation time, then by sequence number.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
}

// Group partitions the records of one document into lifecycles. Lifecycles
// come back in order of first appearance. The input slice is not modified.
func Group(records []Record) []Lifecycle {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	SortRecords(sorted)

	rv := NewResolver()
	index := make(map[string]int)
	var out []Lifecycle
	for i := range sorted {
		r := sorted[i]
		res := rv.Resolve(&r)
		idx, ok := index[res.Key]
		if !ok {
			idx = len(out)
			index[res.Key] = idx
			out = append(out, Lifecycle{Key: res.Key, Source: res.Source, DocumentID: r.DocumentID})
		}
		out[idx].Records = append(out[idx].Records, r)
	}
	return out
}

// GroupByDocument splits a mixed record set by document and groups each one.
func GroupByDocument(records []Record) map[string][]Lifecycle {
	byDoc := make(map[string][]Record)
	for i := range records {
		byDoc[records[i].DocumentID] = append(byDoc[records[i].DocumentID], records[i])
	}
	out := make(map[string][]Lifecycle, len(byDoc))
	for doc, recs := range byDoc {
		out[doc] = Group(recs)
	}
	return out
}

// Find returns the lifecycle with the given key or alias.
func Find(lcs []Lifecycle, key string) (Lifecycle, bool) {
	for i := range lcs {
		if lcs[i].Key == key {
			return lcs[i], true
		}
	}
	for i := range lcs {
		for j := range lcs[i].Records {
			r := &lcs[i].Records[j]
			if r.ID == key || r.AssertionID == key || r.ContentHash == key {
				return lcs[i], true
			}
		}
	}
	return Lifecycle{}, false
}
