package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"gnssmux/internal/parser"
	"gnssmux/internal/replay"
	"gnssmux/internal/stats"
)

const readChunkSize = 4096

// Config describes one stream.
//
// Device may be empty to auto-detect a USB receiver. Baud must be a rate the
// platform serial implementation supports.
type Config struct {
	Name string

	// Source is "serial" (default), "tcp", "gpsd" or "replay".
	Source string

	Device string
	Baud   int

	// Addr is host:port for tcp and gpsd.
	Addr string

	// Path is the capture log for replay; Speed and Loop control playback.
	Path  string
	Speed float64
	Loop  bool

	// Record, when set, captures every chunk read to this file.
	Record string

	// BufferSize bounds a single message (parser.DefaultBufferSize if 0).
	BufferSize int
}

type Snapshot struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Device string `json:"device,omitempty"`
	Baud   int    `json:"baud,omitempty"`
	Addr   string `json:"addr,omitempty"`
	Path   string `json:"path,omitempty"`
	Record string `json:"record,omitempty"`

	Connected   bool   `json:"connected"`
	Connects    uint64 `json:"connects"`
	BytesRead   int64  `json:"bytes_read"`
	LastDataUTC string `json:"last_data_utc,omitempty"`
	LastError   string `json:"last_error,omitempty"`

	Stats stats.Snapshot `json:"stats"`
}

type Service struct {
	cfg    Config
	source string
	log    *logrus.Entry

	ledger   *stats.Ledger
	parser   *parser.Parser
	recorder *replay.Writer

	minBackoff time.Duration
	maxBackoff time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last      atomic.Value // Snapshot without counters
	bytesRead atomic.Int64
	lastData  atomic.Int64 // unix ns

	mu     sync.Mutex
	closer io.Closer
}

// New builds the service for one stream. Messages, invalid data and
// unattributed bytes go to the stream ledger, to the diagnostic log and to
// every handler in extra.
func New(cfg Config, log *logrus.Entry, extra ...parser.Handler) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	src := NormalizeSource(cfg.Source)
	switch src {
	case SourceSerial:
		if cfg.Baud == 0 {
			cfg.Baud = 9600
		}
	case SourceGPSD:
		if strings.TrimSpace(cfg.Addr) == "" {
			cfg.Addr = gpsdDefaultAddr
		}
	case SourceReplay:
		if cfg.Speed <= 0 {
			cfg.Speed = 1
		}
	}

	s := &Service{
		cfg:        cfg,
		source:     src,
		log:        log.WithField("stream", cfg.Name),
		ledger:     stats.NewLedger(0),
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
	handlers := parser.Handlers{s.ledger, NewLogHandler(s.log)}
	for _, h := range extra {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	s.parser = parser.New(parser.Config{Name: cfg.Name, BufferSize: cfg.BufferSize}, handlers)

	s.last.Store(Snapshot{
		Name:   cfg.Name,
		Source: src,
		Device: cfg.Device,
		Baud:   cfg.Baud,
		Addr:   cfg.Addr,
		Path:   cfg.Path,
		Record: cfg.Record,
	})
	return s
}

func (s *Service) Name() string { return s.cfg.Name }

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("stream service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	switch s.source {
	case SourceSerial:
	case SourceTCP, SourceGPSD:
		if strings.TrimSpace(s.cfg.Addr) == "" {
			return fmt.Errorf("stream %s: addr is required for source %s", s.cfg.Name, s.source)
		}
	case SourceReplay:
		if strings.TrimSpace(s.cfg.Path) == "" {
			return fmt.Errorf("stream %s: path is required for source replay", s.cfg.Name)
		}
	default:
		return fmt.Errorf("stream %s: unknown source %q", s.cfg.Name, s.source)
	}

	if s.cfg.Record != "" {
		w, err := replay.CreateWriter(s.cfg.Record)
		if err != nil {
			s.setErrorLocked(fmt.Sprintf("record open failed path=%s: %v", s.cfg.Record, err))
			return fmt.Errorf("stream %s: %w", s.cfg.Name, err)
		}
		s.recorder = w
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.source == SourceReplay {
			s.runReplay(childCtx)
			return
		}
		s.runStream(childCtx)
	}()
	return nil
}

func (s *Service) runStream(ctx context.Context) {
	s.log.WithField("source", s.source).Info("stream enabled")
	backoff := s.minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		rc, desc, err := s.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.setError(err.Error())
			s.log.WithError(err).Debug("open failed")
			t := backoff
			if t > s.maxBackoff {
				t = s.maxBackoff
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(t):
			}
			if backoff < s.maxBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = s.minBackoff
		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			_ = rc.Close()
			return
		}
		// Close() interrupts the active reader through this.
		s.closer = rc
		s.mu.Unlock()
		s.update(func(snap *Snapshot) {
			snap.Connected = true
			snap.Connects++
		})
		s.log.WithField("source", desc).Info("stream connected")

		err = s.pump(ctx, rc)
		_ = rc.Close()
		s.parser.Flush()
		s.update(func(snap *Snapshot) { snap.Connected = false })
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.EOF
		}
		s.setError(fmt.Sprintf("%s read stopped: %v", s.source, err))
		s.log.WithError(err).Warn("stream disconnected")
	}
}

func (s *Service) open(ctx context.Context) (io.ReadCloser, string, error) {
	switch s.source {
	case SourceTCP:
		conn, err := dialTCP(ctx, s.cfg.Addr)
		if err != nil {
			return nil, "", fmt.Errorf("tcp dial failed addr=%s: %w", s.cfg.Addr, err)
		}
		return conn, "tcp " + s.cfg.Addr, nil
	case SourceGPSD:
		rc, err := openGPSD(ctx, s.cfg.Addr)
		if err != nil {
			return nil, "", fmt.Errorf("gpsd connect failed addr=%s: %w", s.cfg.Addr, err)
		}
		return rc, "gpsd " + s.cfg.Addr, nil
	default:
		device := strings.TrimSpace(s.cfg.Device)
		if device == "" {
			device = autoDetectDevice()
			if device == "" {
				return nil, "", errors.New("serial auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
			}
		}
		f, err := openSerial(device, s.cfg.Baud)
		if err != nil {
			return nil, "", fmt.Errorf("serial open failed device=%s baud=%d: %w", device, s.cfg.Baud, err)
		}
		s.update(func(snap *Snapshot) { snap.Device = device })
		return f, fmt.Sprintf("serial %s@%d", device, s.cfg.Baud), nil
	}
}

func (s *Service) pump(ctx context.Context, r io.Reader) error {
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			s.consume(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) && s.source == SourceSerial && serialEOFIsTimeout {
				continue
			}
			return err
		}
	}
}

func (s *Service) runReplay(ctx context.Context) {
	log := s.log.WithField("path", s.cfg.Path)
	recs, err := replay.ReadFile(s.cfg.Path)
	if err != nil {
		s.setError(fmt.Sprintf("replay load failed: %v", err))
		log.WithError(err).Error("replay load failed")
		return
	}

	log.WithFields(logrus.Fields{"records": len(recs), "speed": s.cfg.Speed, "loop": s.cfg.Loop}).Info("replay started")
	s.update(func(snap *Snapshot) {
		snap.Connected = true
		snap.Connects++
	})

	err = replay.Play(ctx, recs, s.cfg.Speed, s.cfg.Loop, nil, func(data []byte) error {
		s.consume(data)
		return nil
	})
	s.parser.Flush()
	s.update(func(snap *Snapshot) { snap.Connected = false })
	if err != nil && ctx.Err() == nil {
		s.setError(fmt.Sprintf("replay failed: %v", err))
		log.WithError(err).Warn("replay failed")
		return
	}
	log.Info("replay finished")
}

// consume runs on the reader goroutine only; the parser is not shared.
func (s *Service) consume(chunk []byte) {
	now := time.Now()
	if s.recorder != nil {
		if err := s.recorder.WriteChunk(now, chunk); err != nil {
			s.log.WithError(err).Error("capture write failed; recording stopped")
			_ = s.recorder.Close()
			s.recorder = nil
		}
	}
	s.bytesRead.Add(int64(len(chunk)))
	s.lastData.Store(now.UnixNano())
	_, _ = s.parser.Write(chunk)
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()

	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.log.WithError(err).Warn("capture close failed")
		}
		s.recorder = nil
	}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := s.status()
	snap.BytesRead = s.bytesRead.Load()
	if ns := s.lastData.Load(); ns != 0 {
		snap.LastDataUTC = time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
	}
	snap.Stats = s.ledger.Snapshot()
	return snap
}

func (s *Service) status() Snapshot {
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

func (s *Service) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.status()
	fn(&cur)
	s.last.Store(cur)
}

func (s *Service) setError(msg string) {
	s.update(func(snap *Snapshot) { snap.LastError = msg })
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.status()
	cur.LastError = msg
	s.last.Store(cur)
}
