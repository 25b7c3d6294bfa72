package labs

import (
	"strconv"
	"time"
)

// message is what queue labs carry. At is the send time in Unix nanoseconds
// so consumers can record queueing latency.
type message struct {
	From int   `msgpack:"f"`
	Seq  int64 `msgpack:"s"`
	At   int64 `msgpack:"t"`
}

// messageSlot fits a msgpack-encoded message plus the slot length prefix.
const messageSlot = 48

func newMessage(from int, seq int64) message {
	return message{From: from, Seq: seq, At: time.Now().UnixNano()}
}

func (m message) age() time.Duration {
	return time.Since(time.Unix(0, m.At))
}

func (m message) source() string {
	return "p" + strconv.Itoa(m.From)
}
