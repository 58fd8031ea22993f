package chunk

import (
	"encoding/binary"
	"io"
)

// WriteMessage sends msg as a single fmt-0 chunk stream (re-chunked to
// chunkSize), the simplest encoding any RTMP client accepts regardless of
// header-compression support. Used only for the small number of outbound
// messages this service sends (onStatus replies, Window Acknowledgement
// Size); it is not a general-purpose encoder for high-volume media.
func WriteMessage(w io.Writer, msg *Message, chunkSize uint32) error {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	basic := basicHeaderBytes(msg.CSID)
	var mh [11]byte
	putU24(mh[0:3], msg.Timestamp)
	putU24(mh[3:6], uint32(len(msg.Payload)))
	mh[6] = msg.TypeID
	binary.LittleEndian.PutUint32(mh[7:11], msg.MessageStreamID)

	if _, err := w.Write(basic); err != nil {
		return err
	}
	if _, err := w.Write(mh[:]); err != nil {
		return err
	}

	payload := msg.Payload
	for len(payload) > 0 {
		n := chunkSize
		if uint32(len(payload)) < n {
			n = uint32(len(payload))
		}
		if _, err := w.Write(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		if len(payload) > 0 {
			// Continuation chunks use fmt 3 (basic header only).
			if _, err := w.Write(continuationHeaderBytes(msg.CSID)); err != nil {
				return err
			}
		}
	}
	return nil
}

func putU24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func basicHeaderBytes(csid uint32) []byte {
	return chunkBasicHeader(FmtFull, csid)
}

func continuationHeaderBytes(csid uint32) []byte {
	return chunkBasicHeader(FmtContinuation, csid)
}

func chunkBasicHeader(fmtVal byte, csid uint32) []byte {
	switch {
	case csid < 64:
		return []byte{fmtVal<<6 | byte(csid)}
	case csid < 320:
		return []byte{fmtVal << 6, byte(csid - 64)}
	default:
		rem := csid - 64
		return []byte{fmtVal<<6 | 1, byte(rem), byte(rem >> 8)}
	}
}
