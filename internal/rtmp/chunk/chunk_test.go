package chunk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteMessageThenReadMessageRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	msg := &Message{
		CSID:            4,
		Timestamp:       1000,
		TypeID:          TypeVideo,
		MessageStreamID: 1,
		Payload:         bytes.Repeat([]byte{0xAB}, 300),
	}
	require.NoError(t, WriteMessage(&buf, msg, 128))

	r := NewReader(&buf)
	got, err := r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, msg.CSID, got.CSID)
	require.Equal(t, msg.TypeID, got.TypeID)
	require.Equal(t, msg.MessageStreamID, got.MessageStreamID)
	require.Equal(t, msg.Payload, got.Payload)
}

func TestReadMessageAppliesSetChunkSize(t *testing.T) {
	var buf bytes.Buffer
	ctrl := &Message{CSID: 2, TypeID: TypeSetChunkSize, Payload: []byte{0, 0, 1, 0}} // 256
	require.NoError(t, WriteMessage(&buf, ctrl, DefaultChunkSize))

	big := &Message{CSID: 5, TypeID: TypeVideo, MessageStreamID: 1, Payload: bytes.Repeat([]byte{1}, 200)}
	require.NoError(t, WriteMessage(&buf, big, 256))

	r := NewReader(&buf)
	_, err := r.ReadMessage()
	require.NoError(t, err)
	require.EqualValues(t, 256, r.chunkSize)

	got, err := r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, big.Payload, got.Payload)
}

func TestFmt3ContinuationRequiresInFlightMessage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(chunkBasicHeader(FmtContinuation, 6))

	r := NewReader(&buf)
	_, err := r.ReadMessage()
	require.Error(t, err)
}

func TestMultipleMessagesInterleaveOnDistinctCSIDs(t *testing.T) {
	var buf bytes.Buffer
	a := &Message{CSID: 4, TypeID: TypeAudio, MessageStreamID: 1, Payload: []byte("audio-payload")}
	v := &Message{CSID: 5, TypeID: TypeVideo, MessageStreamID: 1, Payload: []byte("video-payload")}
	require.NoError(t, WriteMessage(&buf, a, DefaultChunkSize))
	require.NoError(t, WriteMessage(&buf, v, DefaultChunkSize))

	r := NewReader(&buf)
	first, err := r.ReadMessage()
	require.NoError(t, err)
	second, err := r.ReadMessage()
	require.NoError(t, err)

	require.ElementsMatch(t, []byte(a.Payload), first.Payload)
	require.ElementsMatch(t, []byte(v.Payload), second.Payload)
}
