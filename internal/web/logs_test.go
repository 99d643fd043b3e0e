package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hookedLogger(b *LogBuffer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.TraceLevel)
	l.AddHook(b)
	return l
}

func messages(entries []LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestLogBuffer_CapturesStreamAndFields(t *testing.T) {
	b := NewLogBuffer(10)
	l := hookedLogger(b)

	l.WithFields(logrus.Fields{"stream": "rover", "offset": 188}).
		WithError(errors.New("boom")).
		Warn("checksum mismatch")

	entries, dropped, err := b.Snapshot(LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), dropped)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "checksum mismatch", e.Message)
	assert.Equal(t, logrus.WarnLevel, e.Level)
	assert.Equal(t, "rover", e.Stream)
	assert.Equal(t, map[string]string{"offset": "188", "error": "boom"}, e.Fields)
}

func TestLogBuffer_RingDropsOldest(t *testing.T) {
	b := NewLogBuffer(3)
	l := hookedLogger(b)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		l.Info(m)
	}

	entries, dropped, err := b.Snapshot(LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e"}, messages(entries))
	assert.Equal(t, uint64(2), dropped)

	entries, _, _ = b.Snapshot(LogFilter{Tail: 2})
	assert.Equal(t, []string{"d", "e"}, messages(entries))
}

func TestLogBuffer_Filters(t *testing.T) {
	b := NewLogBuffer(0)
	l := hookedLogger(b)
	l.WithField("stream", "rover").Info("rover connected")
	l.WithField("stream", "base").Warn("base disconnected")
	l.WithField("stream", "rover").Debug("rover dump")
	l.WithField("stream", "rover").Error("rover failed")
	l.Info("started")

	cases := []struct {
		name   string
		filter LogFilter
		want   []string
	}{
		{name: "All", filter: LogFilter{}, want: []string{"rover connected", "base disconnected", "rover dump", "rover failed", "started"}},
		{name: "Stream", filter: LogFilter{Stream: "rover"}, want: []string{"rover connected", "rover dump", "rover failed"}},
		{name: "Level", filter: LogFilter{Level: "warn"}, want: []string{"base disconnected", "rover failed"}},
		{name: "StreamLevelTail", filter: LogFilter{Stream: "rover", Level: "info", Tail: 1}, want: []string{"rover failed"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries, _, err := b.Snapshot(tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, messages(entries))
		})
	}

	_, _, err := b.Snapshot(LogFilter{Level: "loud"})
	assert.Error(t, err)
}

func TestLogBuffer_Handler(t *testing.T) {
	b := NewLogBuffer(0)
	l := hookedLogger(b)
	l.WithFields(logrus.Fields{"stream": "rover", "source": "tcp"}).Info("stream connected")
	l.WithField("stream", "base").Debug("noise")

	ts := httptest.NewServer(Handler(nil, b, nil))
	defer ts.Close()

	resp, body := get(t, ts.URL+"/api/logs?stream=rover")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lr LogsResponse
	require.NoError(t, json.Unmarshal(body, &lr))
	require.Len(t, lr.Entries, 1)
	assert.Equal(t, "stream connected", lr.Entries[0].Message)
	assert.Equal(t, logrus.InfoLevel, lr.Entries[0].Level)
	assert.Contains(t, string(body), `"level": "info"`)

	resp, body = get(t, ts.URL+"/api/logs?format=text&level=info")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "INFO [rover] stream connected source=tcp\n")
	assert.NotContains(t, string(body), "noise")

	resp, _ = get(t, ts.URL+"/api/logs?tail=0")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = get(t, ts.URL+"/api/logs?level=loud")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
