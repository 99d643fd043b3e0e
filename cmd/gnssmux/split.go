package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gnssmux/internal/config"
	"gnssmux/internal/gps"
	"gnssmux/internal/logging"
	"gnssmux/internal/parser"
	"gnssmux/internal/replay"
	"gnssmux/internal/stats"
)

type splitOptions struct {
	name       string
	bufferSize int
	outDir     string
	capture    bool
}

func newSplitCmd(global *globalOptions) *cobra.Command {
	opts := splitOptions{}
	cmd := &cobra.Command{
		Use:   "split FILE",
		Short: "Parse a recorded receiver file and print a message report",
		Long: `Parse a raw receiver dump (or a capture log with --capture) and print the
checksum error totals, the NMEA, RTCM and UBX message lists with counts and
maximum lengths, and the offsets of bytes that did not belong to any message.

Checksum failures are logged to stderr; use --log-level debug for hex dumps.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := global.logLevel
			if level == "" {
				level = "warn"
			}
			logger, closer, err := logging.New(config.LogConfig{Level: level}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()
			return runSplit(args[0], opts, cmd.OutOrStdout(), logrus.NewEntry(logger))
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "Tx", "parser name used in diagnostics")
	cmd.Flags().IntVar(&opts.bufferSize, "buffer-size", parser.DefaultBufferSize, "maximum message length in bytes")
	cmd.Flags().StringVar(&opts.outDir, "out-dir", "", "write valid messages to nmea.txt, ubx.bin and rtcm.bin in this directory")
	cmd.Flags().BoolVar(&opts.capture, "capture", false, "FILE is a capture log written by a stream's record option")
	return cmd
}

func runSplit(path string, opts splitOptions, stdout io.Writer, log *logrus.Entry) error {
	ledger := stats.NewLedger(0)
	handlers := parser.Handlers{ledger, gps.NewLogHandler(log)}

	var out *splitWriter
	if opts.outDir != "" {
		var err error
		out, err = newSplitWriter(opts.outDir)
		if err != nil {
			return err
		}
		handlers = append(handlers, out)
	}

	p := parser.New(parser.Config{Name: opts.name, BufferSize: opts.bufferSize}, handlers)
	readErr := feedFile(p, path, opts.capture)
	p.Flush()

	if out != nil {
		if err := out.Close(); err != nil && readErr == nil {
			readErr = err
		}
	}
	if readErr != nil {
		return readErr
	}

	writeReport(stdout, ledger.Snapshot())
	return nil
}

func feedFile(p *parser.Parser, path string, capture bool) error {
	if capture {
		recs, err := replay.ReadFile(path)
		if err != nil {
			return err
		}
		_, _ = p.Write(replay.Bytes(recs))
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(p, bufio.NewReaderSize(f, 64*1024)); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func writeReport(w io.Writer, s stats.Snapshot) {
	if s.NMEAChecksumErrors > 0 {
		fmt.Fprintf(w, "    Total NMEA checksum errors: %d\n", s.NMEAChecksumErrors)
	}
	if s.RTCMCRCErrors > 0 {
		fmt.Fprintf(w, "    Total RTCM message CRC errors: %d\n", s.RTCMCRCErrors)
	}
	if s.UBXChecksumErrors > 0 {
		fmt.Fprintf(w, "    Total UBX message checksum errors: %d\n", s.UBXChecksumErrors)
	}

	fmt.Fprintf(w, "NMEA Message List:\n")
	for _, e := range s.NMEA {
		fmt.Fprintf(w, "    %s: %d %s, max length: %d bytes\n", e.Name, e.Count, plural(e.Count, "time"), e.MaxLength)
	}

	fmt.Fprintf(w, "RTCM Message List:\n")
	for _, e := range s.RTCM {
		n := e.Number
		fmt.Fprintf(w, "    %d (%02x %xx): %d %s, max length: %d bytes\n",
			n, n>>4, n&0xF, e.Count, plural(e.Count, "time"), e.MaxLength)
	}

	fmt.Fprintf(w, "UBX Message List:\n")
	for _, e := range s.UBX {
		fmt.Fprintf(w, "    %d.%d (0x%02x.%02x): %d %s, max length: %d bytes\n",
			e.Class, e.ID, e.Class, e.ID, e.Count, plural(e.Count, "time"), e.MaxLength)
	}

	if s.InvalidEvents > 0 {
		fmt.Fprintf(w, "Invalid data: %d %s, %d bytes\n", s.InvalidEvents, plural(s.InvalidEvents, "event"), s.InvalidBytes)
	}

	fmt.Fprintf(w, "Bad character offsets:\n")
	for _, r := range s.UnattributedRanges {
		fmt.Fprintf(w, "    0x%08x: %d bytes\n", r.Offset, r.Length)
	}
	if s.RangesTruncated {
		fmt.Fprintf(w, "    ... (list truncated)\n")
	}
	fmt.Fprintf(w, "    Total: %d\n", s.UnattributedBytes)

	fmt.Fprintf(w, "Maximum message length: %d bytes\n", s.MaxLength)
}

func plural(n uint64, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// splitWriter appends every message that passed its checksum to a
// per-protocol file.
type splitWriter struct {
	files map[parser.Protocol]*os.File
	bufs  map[parser.Protocol]*bufio.Writer
	err   error
}

var splitFileNames = map[parser.Protocol]string{
	parser.ProtocolNMEA: "nmea.txt",
	parser.ProtocolUBX:  "ubx.bin",
	parser.ProtocolRTCM: "rtcm.bin",
}

func newSplitWriter(dir string) (*splitWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	sw := &splitWriter{
		files: map[parser.Protocol]*os.File{},
		bufs:  map[parser.Protocol]*bufio.Writer{},
	}
	for proto, name := range splitFileNames {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			_ = sw.Close()
			return nil, err
		}
		sw.files[proto] = f
		sw.bufs[proto] = bufio.NewWriter(f)
	}
	return sw, nil
}

func (sw *splitWriter) OnMessage(_ *parser.Parser, msg parser.Message) {
	if !msg.ChecksumOK || sw.err != nil {
		return
	}
	if bw := sw.bufs[msg.Protocol]; bw != nil {
		if _, err := bw.Write(msg.Data); err != nil {
			sw.err = err
		}
	}
}

func (sw *splitWriter) OnInvalidData(*parser.Parser, []byte, int64) {}

func (sw *splitWriter) OnUnattributed(*parser.Parser, byte, int64) {}

func (sw *splitWriter) Close() error {
	errs := []error{sw.err}
	for proto, f := range sw.files {
		if bw := sw.bufs[proto]; bw != nil {
			errs = append(errs, bw.Flush())
		}
		errs = append(errs, f.Close())
	}
	sw.files = nil
	sw.bufs = nil
	return errors.Join(errs...)
}
