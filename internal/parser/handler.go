package parser

// Handler receives the output of a Parser. Calls happen synchronously on the
// goroutine that feeds the parser; slices passed in alias the parser buffer
// and are reused as soon as the call returns.
type Handler interface {
	// OnMessage is called once per framed message, whether or not its
	// checksum matched.
	OnMessage(p *Parser, msg Message)

	// OnInvalidData is called when a message in progress is abandoned because
	// a byte broke its framing. data excludes the offending byte, which is
	// re-dispatched as a possible preamble.
	OnInvalidData(p *Parser, data []byte, offset int64)

	// OnUnattributed is called for every byte seen while waiting for a
	// preamble that does not start any known message.
	OnUnattributed(p *Parser, b byte, offset int64)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Message      func(p *Parser, msg Message)
	InvalidData  func(p *Parser, data []byte, offset int64)
	Unattributed func(p *Parser, b byte, offset int64)
}

func (h HandlerFuncs) OnMessage(p *Parser, msg Message) {
	if h.Message != nil {
		h.Message(p, msg)
	}
}

func (h HandlerFuncs) OnInvalidData(p *Parser, data []byte, offset int64) {
	if h.InvalidData != nil {
		h.InvalidData(p, data, offset)
	}
}

func (h HandlerFuncs) OnUnattributed(p *Parser, b byte, offset int64) {
	if h.Unattributed != nil {
		h.Unattributed(p, b, offset)
	}
}

// Handlers fans every call out to each handler in order.
type Handlers []Handler

func (hs Handlers) OnMessage(p *Parser, msg Message) {
	for _, h := range hs {
		h.OnMessage(p, msg)
	}
}

func (hs Handlers) OnInvalidData(p *Parser, data []byte, offset int64) {
	for _, h := range hs {
		h.OnInvalidData(p, data, offset)
	}
}

func (hs Handlers) OnUnattributed(p *Parser, b byte, offset int64) {
	for _, h := range hs {
		h.OnUnattributed(p, b, offset)
	}
}
