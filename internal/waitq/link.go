package waitq

// Notifier is told when a member primitive becomes ready. Primitives call
// Notify after releasing their own lock; deferred is set on the interrupt
// path, where the consumer must only be resumed at the next safe point.
type Notifier interface {
	Notify(deferred bool)
}

// Link is the wait-set membership slot a primitive embeds. It is guarded by
// the primitive's lock.
type Link struct {
	n Notifier
}

// Attach binds n. It fails when the primitive already belongs to a set.
func (l *Link) Attach(n Notifier) bool {
	if l.n != nil || n == nil {
		return false
	}
	l.n = n
	return true
}

// Detach unbinds n. It fails when n is not the bound notifier.
func (l *Link) Detach(n Notifier) bool {
	if l.n == nil || l.n != n {
		return false
	}
	l.n = nil
	return true
}

// Notifier returns the bound notifier or nil.
func (l *Link) Notifier() Notifier {
	return l.n
}

// Linked reports whether the primitive belongs to a set.
func (l *Link) Linked() bool {
	return l.n != nil
}
