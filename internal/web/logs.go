package web

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry is one buffered log record.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   logrus.Level      `json:"level"`
	Stream  string            `json:"stream,omitempty"`
	Message string            `json:"msg"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// LogBuffer is a logrus hook keeping the most recent entries in a ring for
// /api/logs.
type LogBuffer struct {
	mu      sync.Mutex
	ring    []LogEntry
	next    int
	full    bool
	dropped uint64
}

func NewLogBuffer(maxEntries int) *LogBuffer {
	if maxEntries <= 0 {
		maxEntries = 2000
	}
	return &LogBuffer{ring: make([]LogEntry, maxEntries)}
}

func (b *LogBuffer) Levels() []logrus.Level { return logrus.AllLevels }

func (b *LogBuffer) Fire(e *logrus.Entry) error {
	le := LogEntry{
		Time:    e.Time.UTC(),
		Level:   e.Level,
		Message: strings.TrimRight(e.Message, "\n"),
	}
	for k, v := range e.Data {
		if k == "stream" {
			le.Stream = fmt.Sprint(v)
			continue
		}
		if le.Fields == nil {
			le.Fields = make(map[string]string, len(e.Data))
		}
		le.Fields[k] = fmt.Sprint(v)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		b.dropped++
	}
	b.ring[b.next] = le
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.full = true
	}
	return nil
}

// LogFilter selects entries for Snapshot. Empty fields match everything.
type LogFilter struct {
	Stream string
	// Level keeps entries at this severity or above ("warn" drops info).
	Level string
	Tail  int
}

// Snapshot returns up to f.Tail matching entries, oldest first, and the
// number of entries evicted from the ring so far.
func (b *LogBuffer) Snapshot(f LogFilter) ([]LogEntry, uint64, error) {
	maxLevel := logrus.TraceLevel
	if f.Level != "" {
		lvl, err := logrus.ParseLevel(f.Level)
		if err != nil {
			return nil, 0, err
		}
		maxLevel = lvl
	}
	if f.Tail <= 0 {
		f.Tail = 200
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.next
	if b.full {
		n = len(b.ring)
	}
	out := make([]LogEntry, 0, min(n, f.Tail))
	// Walk newest to oldest so the tail limit applies after filtering.
	for i := 0; i < n && len(out) < f.Tail; i++ {
		e := b.ring[(b.next-1-i+len(b.ring))%len(b.ring)]
		if f.Stream != "" && e.Stream != f.Stream {
			continue
		}
		if e.Level > maxLevel {
			continue
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, b.dropped, nil
}

type LogsResponse struct {
	NowUTC  string     `json:"now_utc"`
	Dropped uint64     `json:"dropped"`
	Entries []LogEntry `json:"entries"`
}

// Handler serves GET /api/logs?tail=N&stream=NAME&level=LEVEL as JSON, or as
// one line per entry with format=text.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		q := r.URL.Query()

		f := LogFilter{
			Tail:   200,
			Stream: strings.TrimSpace(q.Get("stream")),
			Level:  strings.TrimSpace(q.Get("level")),
		}
		if s := strings.TrimSpace(q.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			f.Tail = v
		}

		entries, dropped, err := b.Snapshot(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, e := range entries {
				_, _ = fmt.Fprintln(w, formatEntry(e))
			}
			return
		}
		writeJSON(w, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Entries: entries,
		})
	})
}

func formatEntry(e LogEntry) string {
	var sb strings.Builder
	sb.WriteString(e.Time.Format(time.RFC3339))
	sb.WriteByte(' ')
	sb.WriteString(strings.ToUpper(e.Level.String()))
	if e.Stream != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Stream)
		sb.WriteByte(']')
	}
	sb.WriteByte(' ')
	sb.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", k, e.Fields[k])
	}
	return sb.String()
}
