//go:build linux

package eventloop

type watchKind uint8

const (
	watchRead watchKind = iota
	watchWrite
)

func (k watchKind) String() string {
	if k == watchWrite {
		return "write"
	}
	return "read"
}

type watch struct {
	loop     *Loop
	fd       int
	kind     watchKind
	handler  func()
	enabled  bool
	released bool
}

func (w *watch) SetEnabled(enabled bool) {
	l := w.loop
	l.access.Lock()
	defer l.access.Unlock()
	if w.released || w.enabled == enabled {
		return
	}
	w.enabled = enabled
	entry := l.watches[w.fd]
	if entry == nil {
		return
	}
	if err := l.updateLocked(w.fd, entry); err != nil {
		l.logger.Error("update ", w.kind, " watch for fd ", w.fd, ": ", err)
	}
}

func (w *watch) Release() {
	l := w.loop
	l.access.Lock()
	defer l.access.Unlock()
	if w.released {
		return
	}
	w.released = true
	entry := l.watches[w.fd]
	if entry == nil {
		return
	}
	if entry.read == w {
		entry.read = nil
	} else if entry.write == w {
		entry.write = nil
	}
	if err := l.updateLocked(w.fd, entry); err != nil {
		l.logger.Error("release ", w.kind, " watch for fd ", w.fd, ": ", err)
	}
	if entry.read == nil && entry.write == nil {
		delete(l.watches, w.fd)
	}
}
