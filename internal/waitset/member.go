package waitset

import (
	"fmt"

	"rtsync/internal/channel"
	"rtsync/internal/eventbits"
	"rtsync/internal/semaphore"
	"rtsync/internal/waitq"
)

// Kind tells which primitive a Member holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindChannel
	KindSemaphore
	KindEventBits
)

func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindSemaphore:
		return "semaphore"
	case KindEventBits:
		return "eventbits"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Member is a wait-set member: exactly one channel, semaphore or event
// group. Members compare equal when they hold the same primitive.
type Member struct {
	kind Kind
	ch   *channel.Channel
	sem  *semaphore.Semaphore
	ev   *eventbits.Group
}

func Channel(c *channel.Channel) Member {
	if c == nil {
		return Member{}
	}
	return Member{kind: KindChannel, ch: c}
}

func Semaphore(s *semaphore.Semaphore) Member {
	if s == nil {
		return Member{}
	}
	return Member{kind: KindSemaphore, sem: s}
}

func EventBits(g *eventbits.Group) Member {
	if g == nil {
		return Member{}
	}
	return Member{kind: KindEventBits, ev: g}
}

func (m Member) Kind() Kind                      { return m.kind }
func (m Member) IsZero() bool                    { return m.kind == KindInvalid }
func (m Member) Channel() *channel.Channel       { return m.ch }
func (m Member) Semaphore() *semaphore.Semaphore { return m.sem }
func (m Member) EventBits() *eventbits.Group     { return m.ev }

func (m Member) Name() string {
	if p := m.primitive(); p != nil {
		return p.Name()
	}
	return ""
}

// Ready reports whether the member's own NoWait query would succeed now.
func (m Member) Ready() bool {
	if p := m.primitive(); p != nil {
		return p.Ready()
	}
	return false
}

func (m Member) String() string {
	return m.kind.String() + ":" + m.Name()
}

// levelTriggered members stay reportable for as long as they hold data;
// event groups are reported once per Set.
func (m Member) levelTriggered() bool {
	return m.kind == KindChannel || m.kind == KindSemaphore
}

type selectable interface {
	Name() string
	Ready() bool
	JoinSet(waitq.Notifier) (bool, error)
	LeaveSet(waitq.Notifier) error
}

func (m Member) primitive() selectable {
	switch m.kind {
	case KindChannel:
		return m.ch
	case KindSemaphore:
		return m.sem
	case KindEventBits:
		return m.ev
	default:
		return nil
	}
}
