package web

import (
	"time"

	"gnssmux/internal/gps"
)

// StreamSource is satisfied by *gps.Service.
type StreamSource interface {
	Name() string
	Snapshot() gps.Snapshot
}

type Status struct {
	started time.Time
	streams []StreamSource
}

type StatusSnapshot struct {
	Service   string         `json:"service"`
	NowUTC    string         `json:"now_utc"`
	UptimeSec float64        `json:"uptime_sec"`
	Streams   []gps.Snapshot `json:"streams"`
}

func NewStatus(streams ...StreamSource) *Status {
	return &Status{started: time.Now(), streams: streams}
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	snap := StatusSnapshot{
		Service:   "gnssmux",
		NowUTC:    nowUTC.Format(time.RFC3339Nano),
		UptimeSec: nowUTC.Sub(s.started).Seconds(),
		Streams:   make([]gps.Snapshot, 0, len(s.streams)),
	}
	for _, st := range s.streams {
		snap.Streams = append(snap.Streams, st.Snapshot())
	}
	return snap
}

// Stream returns the snapshot of the named stream.
func (s *Status) Stream(name string) (gps.Snapshot, bool) {
	for _, st := range s.streams {
		if st.Name() == name {
			return st.Snapshot(), true
		}
	}
	return gps.Snapshot{}, false
}
