package channel

import (
	"context"
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"

	"rtsync/internal/kernel"
)

// slotHeader is the length prefix written before the encoded value.
const slotHeader = 4

// Typed carries values of T through a byte channel. Each value is msgpack
// encoded into one slot, so the encoding plus a 4-byte length prefix must fit
// in ElementSize.
type Typed[T any] struct {
	ch *Channel
}

// NewTyped wraps ch.
func NewTyped[T any](ch *Channel) *Typed[T] {
	return &Typed[T]{ch: ch}
}

// Channel returns the underlying byte channel, for wait-set membership.
func (t *Typed[T]) Channel() *Channel { return t.ch }

func (t *Typed[T]) Send(ctx context.Context, v T, timeout kernel.Timeout) error {
	slot, err := t.encode(v, "channel.send")
	if err != nil {
		return err
	}
	return t.ch.Send(ctx, slot, timeout)
}

func (t *Typed[T]) SendToFront(ctx context.Context, v T, timeout kernel.Timeout) error {
	slot, err := t.encode(v, "channel.send_front")
	if err != nil {
		return err
	}
	return t.ch.SendToFront(ctx, slot, timeout)
}

func (t *Typed[T]) SendFromInterrupt(v T) error {
	slot, err := t.encode(v, "channel.send_isr")
	if err != nil {
		return err
	}
	return t.ch.SendFromInterrupt(slot)
}

func (t *Typed[T]) Receive(ctx context.Context, timeout kernel.Timeout) (T, error) {
	var zero T
	slot, err := t.ch.Receive(ctx, timeout)
	if err != nil {
		return zero, err
	}
	return t.decode(slot)
}

func (t *Typed[T]) Peek(ctx context.Context, timeout kernel.Timeout) (T, error) {
	var zero T
	slot, err := t.ch.Peek(ctx, timeout)
	if err != nil {
		return zero, err
	}
	return t.decode(slot)
}

func (t *Typed[T]) encode(v T, op string) ([]byte, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s %s: encode: %w", op, t.ch.name, err)
	}
	if len(payload)+slotHeader > t.ch.elem {
		return nil, fmt.Errorf("%w: %d-byte value", kernel.NewError(kernel.CodeInvalidArgument, op, t.ch.name), len(payload))
	}
	n, err := safecast.Conv[uint32](len(payload))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, t.ch.name, err)
	}
	slot := make([]byte, t.ch.elem)
	binary.LittleEndian.PutUint32(slot, n)
	copy(slot[slotHeader:], payload)
	return slot, nil
}

func (t *Typed[T]) decode(slot []byte) (T, error) {
	var v T
	if len(slot) < slotHeader {
		return v, fmt.Errorf("channel %s: short slot", t.ch.name)
	}
	n, err := safecast.Conv[int](binary.LittleEndian.Uint32(slot))
	if err != nil || n > len(slot)-slotHeader {
		return v, fmt.Errorf("channel %s: corrupt slot length", t.ch.name)
	}
	if err := msgpack.Unmarshal(slot[slotHeader:slotHeader+n], &v); err != nil {
		return v, fmt.Errorf("channel %s: decode: %w", t.ch.name, err)
	}
	return v, nil
}
