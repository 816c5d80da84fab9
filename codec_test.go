package amaterasu

import (
	"bytes"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTextFrame(t *testing.T) {
	raw := []byte(`{"op":0,"s":12,"t":"MESSAGE_CREATE","d":{"id":"m1"}}`)

	e, err := decodeFrame(websocket.TextMessage, raw)
	require.NoError(t, err)
	assert.Equal(t, OpDispatch, e.Operation)
	assert.EqualValues(t, 12, e.Sequence)
	assert.Equal(t, EventMessageCreate, e.Type)
	assert.JSONEq(t, `{"id":"m1"}`, string(e.RawData))
}

func TestDecodeCompressedFrame(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"op":10,"d":{"heartbeat_interval":41250}}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	e, err := decodeFrame(websocket.BinaryMessage, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, OpHello, e.Operation)

	var hello helloData
	require.NoError(t, jsonIter.Unmarshal(e.RawData, &hello))
	assert.EqualValues(t, 41250, hello.HeartbeatInterval)
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := decodeFrame(websocket.TextMessage, []byte(`{"op":0,"s":`))
	require.ErrorIs(t, err, ErrProtocol)

	// Binary frames that are not a zlib stream fail at the wrapper, not
	// the JSON layer.
	_, err = decodeFrame(websocket.BinaryMessage, []byte("not a zlib stream"))
	require.ErrorIs(t, err, ErrProtocol)
}

func TestEncodeFrameShape(t *testing.T) {
	b, err := encodeFrame(OpHeartbeat, int64(7))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":1,"d":7}`, string(b))

	b, err = encodeFrame(OpResume, resumeData{Token: "tk", SessionID: "sess", Sequence: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":6,"d":{"token":"tk","session_id":"sess","seq":3}}`, string(b))
}
