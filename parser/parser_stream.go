package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/nexsip/sipua/sip"
	"github.com/nexsip/sipua/stun"
)

const (
	stateStartLine = 0
	stateHeader    = 1
	stateContent   = 2
)

// Sentinel errors surfaced by the incremental decoder (spec.md §4.2).
// ErrParseSipPartial means the buffer held no complete frame yet; the
// caller should wait for more bytes and retry with the same ParserStream.
var (
	ErrParseSipPartial        = errors.New("parser: partial message, wait for more data")
	ErrParseInvalidMessage    = errors.New("parser: invalid sip message")
	ErrParseLineNoCRLF        = errors.New("parser: line missing CRLF terminator")
	ErrParseReadBodyIncomplete = errors.New("parser: incomplete body")
)

var streamBufReader = sync.Pool{
	New: func() interface{} {
		// The Pool's New function should generally only return pointer
		// types, since a pointer can be put into the return interface
		// value without an allocation:
		return new(bytes.Buffer)
	},
}

// Item is one decoded unit out of an incoming byte stream: a SIP message,
// an RFC 5626 keep-alive ping/pong, or a demultiplexed STUN payload.
type Item interface {
	isItem()
}

// DecodedMessage wraps a fully parsed SIP message extracted from the
// stream. The buffer backing its headers/body is not reused until the
// next ParserStream state reset, so it remains valid for the caller to
// hold onto past the Next() call that produced it.
type DecodedMessage struct {
	Message sip.Message
}

func (DecodedMessage) isItem() {}

// KeepAliveRequest is an RFC 5626 double-CRLF ping. The framer's caller
// must answer it with a single-CRLF pong.
type KeepAliveRequest struct{}

func (KeepAliveRequest) isItem() {}

// KeepAliveResponse is an RFC 5626 single-CRLF pong, discarded on receipt.
type KeepAliveResponse struct{}

func (KeepAliveResponse) isItem() {}

// STUNMessage is a demultiplexed STUN payload (RFC 5389 §6), sharing the
// socket with SIP per RFC 5626's use of STUN for NAT binding discovery.
// Decoding STUN attributes is left to an external collaborator; the
// framer only slices the payload out of the stream.
type STUNMessage struct {
	Payload []byte
}

func (STUNMessage) isItem() {}

// mapHeadersParser is the set of per-header-name decoders a ParserStream
// uses; nil falls back to the package-default headersParsers.
type mapHeadersParser map[string]HeaderParser

func (m mapHeadersParser) parseMsgHeader(msg sip.Message, line string) error {
	parsers := map[string]HeaderParser(m)
	if parsers == nil {
		parsers = headersParsers
	}

	colonIdx := bytes.IndexByte([]byte(line), ':')
	if colonIdx == -1 {
		return fmt.Errorf("field name with no value in header: %s", line)
	}

	fieldName := stringsTrim(line[:colonIdx])
	lowerFieldName := sip.HeaderToLower(fieldName)
	fieldText := stringsTrim(line[colonIdx+1:])

	var header sip.Header
	var err error
	if headerParser, ok := parsers[lowerFieldName]; ok {
		header, err = headerParser(lowerFieldName, fieldText)
	} else {
		header = &sip.GenericHeader{HeaderName: fieldName, Contents: fieldText}
	}
	if err != nil {
		return err
	}
	msg.AppendHeader(header)
	return nil
}

func stringsTrim(s string) string {
	start := 0
	for start < len(s) && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	end := len(s)
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// ParserStream decodes an incoming byte stream incrementally: a chunk may
// contain zero, one, or several complete frames, and any leftover bytes
// are kept for the next call. Datagram controls whether an absent
// Content-Length is treated as "body is the rest of the datagram" (true)
// or as a framing error (false, the default for reliable streams).
type ParserStream struct {
	// headersParsers uses default list of headers to be parsed. Smaller list parser will be faster
	headersParsers mapHeadersParser

	// Datagram marks this stream as carrying discrete datagrams (e.g. a
	// connectionless transport multiplexed through a stream-shaped API)
	// rather than a continuous reliable byte stream.
	Datagram bool

	// runtime values
	reader            *bytes.Buffer
	msg               sip.Message
	readContentLength int
	state             int
}

func (p *ParserStream) reset() {
	p.state = stateStartLine
	p.reader = nil
	p.msg = nil
	p.readContentLength = 0
}

// nextStreamLine reads one CRLF-terminated line out of reader. Unlike
// parser.go's nextLine (which assumes the buffer holds a complete
// message), it must tell an incomplete line apart from a genuine
// zero-length (blank) line, since the caller may need to wait for more
// bytes before a line terminator even arrives.
func nextStreamLine(reader *bytes.Buffer) (line string, err error) {
	raw, rerr := reader.ReadString('\n')
	if rerr != nil {
		// No '\n' found yet: not enough data buffered for a full line.
		return "", io.EOF
	}

	n := len(raw)
	if n < 2 || raw[n-2] != '\r' {
		return "", ErrParseLineNoCRLF
	}
	return raw[:n-2], nil
}

// Next decodes as many complete Items as the currently buffered data
// allows, appending data first. It never blocks: a partial frame at the
// tail of the buffer is kept for the next call, and is reported via
// ErrParseSipPartial only when no item could be produced at all.
func (p *ParserStream) Next(data []byte) ([]Item, error) {
	if p.reader == nil {
		p.reader = streamBufReader.Get().(*bytes.Buffer)
		p.reader.Reset()
	}
	p.reader.Write(data)

	var items []Item
	for {
		item, err := p.next()
		if err == nil {
			items = append(items, item)
			continue
		}
		if err == errNextStreamEmpty {
			break
		}
		if err == ErrParseSipPartial {
			break
		}
		// Fatal parse error: the buffer is unrecoverable for stream
		// transports (spec.md §4.2), drop what remains.
		streamBufReader.Put(p.reader)
		p.reset()
		return items, err
	}

	if p.state == stateStartLine && p.reader.Len() == 0 {
		// Nothing left over past the last complete item: hand the buffer
		// back to the pool until more data arrives.
		streamBufReader.Put(p.reader)
		p.reader = nil
	}

	if len(items) == 0 {
		return nil, ErrParseSipPartial
	}
	return items, nil
}

// errNextStreamEmpty signals "nothing buffered at all", distinct from a
// genuinely partial frame, purely to let Next's loop terminate cleanly.
var errNextStreamEmpty = errors.New("parser: no data buffered")

// next decodes a single Item starting at the current read offset of
// p.reader, or returns ErrParseSipPartial if the buffer doesn't yet hold
// one complete frame. Keep-alive and STUN framing (spec.md §4.2 steps 1-2)
// only apply when starting a fresh frame (stateStartLine); mid-message
// they'd corrupt whatever SIP frame is already in progress.
func (p *ParserStream) next() (Item, error) {
	if p.state == stateStartLine && p.reader.Len() == 0 {
		return nil, errNextStreamEmpty
	}

	if p.state == stateStartLine {
		if item, ok, err := p.tryKeepAlive(); ok || err != nil {
			return item, err
		}
		if item, ok, err := p.tryStun(); ok || err != nil {
			return item, err
		}
	}

	return p.nextMessage()
}

// tryKeepAlive recognizes an RFC 5626 ping/pong: the *entire* currently
// buffered content is one or two bare CRLFs and nothing else. Keep-alive
// frames arrive as their own read with no other payload attached, so
// requiring them to account for the whole buffer (rather than waiting
// indefinitely for a third byte that distinguishes "\r\n" from a
// yet-to-arrive "\r\n\r\n") avoids stalling a legitimate standalone pong.
// It does not consume anything, and reports ok=false, if the buffer
// doesn't match one of those two exact framings.
func (p *ParserStream) tryKeepAlive() (Item, bool, error) {
	b := p.reader.Bytes()
	switch string(b) {
	case "\r\n\r\n":
		p.reader.Next(4)
		return KeepAliveRequest{}, true, nil
	case "\r\n":
		p.reader.Next(2)
		return KeepAliveResponse{}, true, nil
	}
	return nil, false, nil
}

// tryStun demultiplexes a STUN payload per RFC 5389 §6. ok is false when
// the leading bytes plainly aren't STUN, in which case the caller falls
// through to SIP framing.
func (p *ParserStream) tryStun() (Item, bool, error) {
	b := p.reader.Bytes()
	ok, length, incomplete := stun.IsSTUNMessage(b)
	if !ok && !incomplete {
		return nil, false, nil
	}
	if incomplete {
		return nil, true, ErrParseSipPartial
	}
	payload := make([]byte, length)
	copy(payload, b[:length])
	p.reader.Next(length)
	return STUNMessage{Payload: payload}, true, nil
}

// nextMessage runs the SIP start-line/header/body state machine. A
// snapshot of the unconsumed bytes is taken before each read so a
// partial-frame error can rewind the shared buffer to exactly where this
// call started, leaving it untouched for the next Next() call.
func (p *ParserStream) nextMessage() (Item, error) {
	reader := p.reader
	unparsed := reader.Bytes()

	msg, err := func() (sip.Message, error) {
		switch p.state {
		case stateStartLine:
			startLine, err := nextStreamLine(reader)
			if err != nil {
				if err == io.EOF {
					return nil, ErrParseSipPartial
				}
				return nil, err
			}

			msg, err := ParseLine(startLine)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", err.Error(), ErrParseInvalidMessage)
			}

			p.state = stateHeader
			p.msg = msg
			unparsed = reader.Bytes()
			fallthrough
		case stateHeader:
			msg := p.msg
			for {
				line, err := nextStreamLine(reader)
				if err != nil {
					if err == io.EOF {
						return nil, ErrParseSipPartial
					}
					return nil, err
				}

				if len(line) == 0 {
					// We've hit the blank line terminating the header section.
					break
				}

				if err := p.headersParsers.parseMsgHeader(msg, line); err != nil {
					return nil, fmt.Errorf("%s: %w", err.Error(), ErrParseInvalidMessage)
				}
				unparsed = reader.Bytes()
			}
			unparsed = reader.Bytes()

			hdrs := msg.GetHeaders("Content-Length")
			if len(hdrs) == 0 {
				if !p.Datagram {
					return nil, fmt.Errorf("missing Content-Length on reliable stream: %w", ErrParseInvalidMessage)
				}
				// Datagram framing: whatever is left in this chunk is the body.
				body := reader.Bytes()
				reader.Next(len(body))
				if len(bytes.TrimSpace(body)) > 0 {
					out := make([]byte, len(body))
					copy(out, body)
					msg.SetBody(out)
				}
				p.state = -1
				return msg, nil
			}

			h := hdrs[0]
			var contentLength int
			if clh, ok := h.(*sip.ContentLengthHeader); ok {
				contentLength = int(*clh)
			} else {
				n, err := strconv.Atoi(h.Value())
				if err != nil {
					return nil, fmt.Errorf("fail to parse content length: %w", err)
				}
				contentLength = n
			}

			if contentLength <= 0 {
				p.state = -1
				return msg, nil
			}

			body := make([]byte, contentLength)
			msg.SetBody(body)

			p.state = stateContent
			fallthrough
		case stateContent:
			msg := p.msg
			body := msg.Body()
			contentLength := len(body)

			n, err := reader.Read(body[p.readContentLength:])
			unparsed = reader.Bytes()
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("read message body failed: %w", err)
			}
			p.readContentLength += n

			if p.readContentLength < contentLength {
				return nil, ErrParseSipPartial
			}

			p.state = -1
			return msg, nil
		default:
			return nil, fmt.Errorf("parser stream in unknown state")
		}
	}()

	if err == ErrParseSipPartial {
		reader.Reset()
		reader.Write(unparsed)
		return nil, ErrParseSipPartial
	}
	if err != nil {
		return nil, err
	}

	p.state = stateStartLine
	p.msg = nil
	p.readContentLength = 0
	return DecodedMessage{Message: msg}, nil
}

// ParseSIPStream decodes every SIP message present in data (possibly
// concatenated with bytes buffered from earlier calls), ignoring
// keep-alive and STUN items. It has slightly more overhead than Next
// directly, kept for callers that only care about SIP messages.
func (p *ParserStream) ParseSIPStream(data []byte) ([]sip.Message, error) {
	items, err := p.Next(data)
	if err != nil {
		return nil, err
	}

	msgs := make([]sip.Message, 0, len(items))
	for _, it := range items {
		if dm, ok := it.(DecodedMessage); ok {
			msgs = append(msgs, dm.Message)
		}
	}
	return msgs, nil
}
