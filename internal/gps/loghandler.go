package gps

import (
	"encoding/hex"

	"github.com/sirupsen/logrus"

	"gnssmux/internal/parser"
)

// logHandler reports parser diagnostics. Hex dumps are only rendered when
// debug logging is enabled.
type logHandler struct {
	log *logrus.Entry
}

// NewLogHandler returns a parser.Handler that warns on checksum failures and
// dumps failed or abandoned bytes at debug level.
func NewLogHandler(log *logrus.Entry) parser.Handler {
	return logHandler{log: log}
}

func (h logHandler) OnMessage(p *parser.Parser, msg parser.Message) {
	if msg.ChecksumOK {
		if h.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
			h.fields(p, msg.Protocol, msg.Offset, len(msg.Data)).
				WithField("id", msg.Identity()).
				Trace("message")
		}
		return
	}
	e := h.fields(p, msg.Protocol, msg.Offset, len(msg.Data)).WithField("id", msg.Identity())
	e.Warn("checksum mismatch")
	if h.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		e.Debug("\n" + hex.Dump(msg.Data))
	}
}

func (h logHandler) OnInvalidData(p *parser.Parser, data []byte, offset int64) {
	if !h.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	h.fields(p, parser.ProtocolNone, offset, len(data)).Debug("invalid data\n" + hex.Dump(data))
}

// Unattributed bytes are counted by the ledger; logging each one would
// drown everything else.
func (h logHandler) OnUnattributed(*parser.Parser, byte, int64) {}

func (h logHandler) fields(p *parser.Parser, proto parser.Protocol, offset int64, n int) *logrus.Entry {
	f := logrus.Fields{"parser": p.Name(), "offset": offset, "length": n}
	if proto != parser.ProtocolNone {
		f["protocol"] = proto.String()
	}
	return h.log.WithFields(f)
}
