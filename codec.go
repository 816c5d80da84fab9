package amaterasu

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	jsoniter "github.com/json-iterator/go"
)

var jsonIter = jsoniter.ConfigCompatibleWithStandardLibrary

// decodeFrame turns one raw websocket message into an Event. Binary
// messages carry a zlib stream around the JSON frame.
func decodeFrame(messageType int, message []byte) (*Event, error) {
	var reader io.Reader = bytes.NewReader(message)

	if messageType == websocket.BinaryMessage {
		z, err := zlib.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrProtocol, err)
		}
		defer z.Close()
		reader = z
	}

	var e Event
	if err := jsonIter.NewDecoder(reader).Decode(&e); err != nil {
		return nil, fmt.Errorf("%w: decode frame: %v", ErrProtocol, err)
	}
	return &e, nil
}

func encodeFrame(op int, data interface{}) ([]byte, error) {
	b, err := jsonIter.Marshal(outboundFrame{Op: op, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode op %d frame: %w", op, err)
	}
	return b, nil
}
