package chunk

import "fmt"

// csidState is the rolling per-CSID context needed to apply header
// compression (fmt 1/2/3 inherit fields from the last full header seen on
// that chunk stream id) and to reassemble one in-flight message's payload
// across chunk boundaries.
type csidState struct {
	lastTimestamp   uint32
	lastLength      uint32
	lastTypeID      byte
	lastStreamID    uint32
	lastExtended    bool

	buffer        []byte
	received      uint32
	inProgress    bool
}

// apply folds a parsed header into the state, starting a new in-flight
// message for fmt 0-2 and validating continuity for fmt 3.
func (s *csidState) apply(h *Header) error {
	switch h.Fmt {
	case FmtFull:
		s.lastTimestamp = h.Timestamp
		s.lastLength = h.MessageLength
		s.lastTypeID = h.TypeID
		s.lastStreamID = h.MessageStreamID
		s.lastExtended = h.HasExtended
		s.reset()
	case FmtSameStream:
		s.lastTimestamp += h.Timestamp
		s.lastLength = h.MessageLength
		s.lastTypeID = h.TypeID
		s.lastExtended = h.HasExtended
		s.reset()
	case FmtTimestampOnly:
		if s.lastLength == 0 {
			return fmt.Errorf("chunk: fmt 2 with no prior header on this csid")
		}
		s.lastTimestamp += h.Timestamp
		s.lastExtended = h.HasExtended
		s.reset()
	case FmtContinuation:
		if !s.inProgress || s.lastLength == 0 {
			return fmt.Errorf("chunk: fmt 3 continuation with no in-flight message")
		}
	default:
		return fmt.Errorf("chunk: unsupported fmt %d", h.Fmt)
	}
	return nil
}

func (s *csidState) reset() {
	s.buffer = s.buffer[:0]
	s.received = 0
	s.inProgress = true
}

// remaining reports how many more payload bytes the in-flight message needs.
func (s *csidState) remaining() uint32 {
	if !s.inProgress || s.received >= s.lastLength {
		return 0
	}
	return s.lastLength - s.received
}

// append adds one chunk's payload slice to the in-flight message, returning
// the completed Message once the declared length is reached.
func (s *csidState) append(csid uint32, data []byte) (*Message, error) {
	if !s.inProgress {
		return nil, fmt.Errorf("chunk: payload with no in-flight message")
	}
	if s.buffer == nil {
		s.buffer = make([]byte, 0, s.lastLength)
	}
	if s.received+uint32(len(data)) > s.lastLength {
		return nil, fmt.Errorf("chunk: payload overflow: have %d want <= %d", s.received+uint32(len(data)), s.lastLength)
	}
	s.buffer = append(s.buffer, data...)
	s.received += uint32(len(data))
	if s.received < s.lastLength {
		return nil, nil
	}
	msg := &Message{
		CSID:            csid,
		Timestamp:       s.lastTimestamp,
		TypeID:          s.lastTypeID,
		MessageStreamID: s.lastStreamID,
		Payload:         append([]byte(nil), s.buffer...),
	}
	s.inProgress = false
	return msg, nil
}
