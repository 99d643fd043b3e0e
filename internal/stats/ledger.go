// Package stats aggregates parser output per stream: message counts and
// maximum lengths by identity, checksum failures, abandoned messages and
// runs of unattributed bytes.
package stats

import (
	"sort"
	"sync"

	"gnssmux/internal/parser"
)

// DefaultMaxRanges caps the number of unattributed byte ranges kept.
const DefaultMaxRanges = 1000

// Entry is the aggregate for a single message identity.
type Entry struct {
	Count     uint64 `json:"count"`
	MaxLength int    `json:"max_length"`
}

// Range is a run of contiguous unattributed bytes.
type Range struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// NMEAEntry, RTCMEntry and UBXEntry are sorted snapshot rows.
type NMEAEntry struct {
	Name string `json:"name"`
	Entry
}

type RTCMEntry struct {
	Number uint16 `json:"number"`
	Entry
}

type UBXEntry struct {
	Class byte `json:"class"`
	ID    byte `json:"id"`
	Entry
}

// Snapshot is a point-in-time copy of a Ledger.
type Snapshot struct {
	Messages uint64 `json:"messages"`

	NMEA []NMEAEntry `json:"nmea,omitempty"`
	RTCM []RTCMEntry `json:"rtcm,omitempty"`
	UBX  []UBXEntry  `json:"ubx,omitempty"`

	NMEAChecksumErrors uint64 `json:"nmea_checksum_errors"`
	RTCMCRCErrors      uint64 `json:"rtcm_crc_errors"`
	UBXChecksumErrors  uint64 `json:"ubx_checksum_errors"`

	InvalidEvents uint64 `json:"invalid_events"`
	InvalidBytes  uint64 `json:"invalid_bytes"`

	UnattributedBytes  uint64  `json:"unattributed_bytes"`
	UnattributedRanges []Range `json:"unattributed_ranges,omitempty"`
	RangesTruncated    bool    `json:"ranges_truncated,omitempty"`

	MaxLength int `json:"max_length"`
}

// ChecksumErrors returns the failures summed over all protocols.
func (s Snapshot) ChecksumErrors() uint64 {
	return s.NMEAChecksumErrors + s.RTCMCRCErrors + s.UBXChecksumErrors
}

// Ledger implements parser.Handler. One goroutine feeds it through a parser
// while others may call Snapshot.
type Ledger struct {
	mu sync.Mutex

	maxRanges int

	messages uint64
	nmea     map[string]*Entry
	rtcm     map[uint16]*Entry
	ubx      map[uint16]*Entry

	nmeaErrors uint64
	rtcmErrors uint64
	ubxErrors  uint64

	invalidEvents uint64
	invalidBytes  uint64

	unattributed uint64
	ranges       []Range
	truncated    bool

	maxLength int
}

// NewLedger returns an empty ledger keeping at most maxRanges unattributed
// ranges (DefaultMaxRanges when <= 0).
func NewLedger(maxRanges int) *Ledger {
	if maxRanges <= 0 {
		maxRanges = DefaultMaxRanges
	}
	return &Ledger{
		maxRanges: maxRanges,
		nmea:      map[string]*Entry{},
		rtcm:      map[uint16]*Entry{},
		ubx:       map[uint16]*Entry{},
	}
}

func (l *Ledger) OnMessage(_ *parser.Parser, msg parser.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var e *Entry
	switch msg.Protocol {
	case parser.ProtocolNMEA:
		e = lookup(l.nmea, msg.Name)
		if !msg.ChecksumOK {
			l.nmeaErrors++
		}
	case parser.ProtocolRTCM:
		e = lookup(l.rtcm, msg.ID)
		if !msg.ChecksumOK {
			l.rtcmErrors++
		}
	case parser.ProtocolUBX:
		e = lookup(l.ubx, msg.ID)
		if !msg.ChecksumOK {
			l.ubxErrors++
		}
	default:
		return
	}

	l.messages++
	e.Count++
	if n := len(msg.Data); n > e.MaxLength {
		e.MaxLength = n
	}
	if n := len(msg.Data); n > l.maxLength {
		l.maxLength = n
	}
}

func (l *Ledger) OnInvalidData(_ *parser.Parser, data []byte, _ int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidEvents++
	l.invalidBytes += uint64(len(data))
}

func (l *Ledger) OnUnattributed(_ *parser.Parser, _ byte, offset int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.unattributed++
	if n := len(l.ranges); n > 0 {
		last := &l.ranges[n-1]
		if last.Offset+last.Length == offset {
			last.Length++
			return
		}
	}
	if len(l.ranges) >= l.maxRanges {
		l.truncated = true
		return
	}
	l.ranges = append(l.ranges, Range{Offset: offset, Length: 1})
}

// Snapshot returns a sorted copy of the ledger.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{
		Messages:           l.messages,
		NMEAChecksumErrors: l.nmeaErrors,
		RTCMCRCErrors:      l.rtcmErrors,
		UBXChecksumErrors:  l.ubxErrors,
		InvalidEvents:      l.invalidEvents,
		InvalidBytes:       l.invalidBytes,
		UnattributedBytes:  l.unattributed,
		RangesTruncated:    l.truncated,
		MaxLength:          l.maxLength,
	}

	for name, e := range l.nmea {
		s.NMEA = append(s.NMEA, NMEAEntry{Name: name, Entry: *e})
	}
	sort.Slice(s.NMEA, func(i, j int) bool { return s.NMEA[i].Name < s.NMEA[j].Name })

	for num, e := range l.rtcm {
		s.RTCM = append(s.RTCM, RTCMEntry{Number: num, Entry: *e})
	}
	sort.Slice(s.RTCM, func(i, j int) bool { return s.RTCM[i].Number < s.RTCM[j].Number })

	for key, e := range l.ubx {
		s.UBX = append(s.UBX, UBXEntry{Class: byte(key >> 8), ID: byte(key), Entry: *e})
	}
	sort.Slice(s.UBX, func(i, j int) bool {
		if s.UBX[i].Class != s.UBX[j].Class {
			return s.UBX[i].Class < s.UBX[j].Class
		}
		return s.UBX[i].ID < s.UBX[j].ID
	})

	if len(l.ranges) > 0 {
		s.UnattributedRanges = append([]Range(nil), l.ranges...)
	}
	return s
}

func lookup[K comparable](m map[K]*Entry, k K) *Entry {
	e, ok := m[k]
	if !ok {
		e = &Entry{}
		m[k] = e
	}
	return e
}
