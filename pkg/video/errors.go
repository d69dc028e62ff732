package video

import "errors"

var (
	// ErrNoProducer is returned when the signalling server lists no matching producer.
	ErrNoProducer = errors.New("video: producer not found")

	// ErrUnexpectedMessage is returned when the signalling server breaks the handshake.
	ErrUnexpectedMessage = errors.New("video: unexpected signalling message")

	// ErrShortInput is returned when there is too little H264 to hold a picture.
	ErrShortInput = errors.New("video: not enough data to decode")

	// ErrNoImage is returned when the decoder produced no JPEG.
	ErrNoImage = errors.New("video: decoder produced no image")
)
