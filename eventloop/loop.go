//go:build linux

package eventloop

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/sagernet/sing-async"
	E "github.com/sagernet/sing-async/common/exceptions"
	"github.com/sagernet/sing-async/common/log"
)

var ErrLoopClosed = E.New("event loop closed")

// Loop is an epoll-backed readiness watcher. One goroutine calls Run and
// becomes the dispatch thread: every watch handler is invoked there, one at a
// time, in kernel delivery order.
type Loop struct {
	logger  *logrus.Entry
	epollFd int
	wakeFd  int

	access  sync.Mutex
	watches map[int]*fdEntry
	closed  bool
}

// fdEntry is the per-descriptor registration: epoll allows a single
// registration per fd, so the read and write watches share one mask.
type fdEntry struct {
	read       *watch
	write      *watch
	registered bool
}

func New() (*Loop, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, E.Cause(err, "create epoll instance")
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epollFd)
		return nil, E.Cause(err, "create wakeup descriptor")
	}
	err = unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	})
	if err != nil {
		unix.Close(wakeFd)
		unix.Close(epollFd)
		return nil, E.Cause(err, "register wakeup descriptor")
	}
	return &Loop{
		logger:  log.NewLogger("eventloop"),
		epollFd: epollFd,
		wakeFd:  wakeFd,
		watches: make(map[int]*fdEntry),
	}, nil
}

func (l *Loop) WatchRead(fd int, handler func()) (async.Watch, error) {
	return l.register(fd, watchRead, handler)
}

func (l *Loop) WatchWrite(fd int, handler func()) (async.Watch, error) {
	return l.register(fd, watchWrite, handler)
}

func (l *Loop) register(fd int, kind watchKind, handler func()) (async.Watch, error) {
	l.access.Lock()
	defer l.access.Unlock()
	if l.closed {
		return nil, ErrLoopClosed
	}
	entry := l.watches[fd]
	if entry == nil {
		entry = new(fdEntry)
		l.watches[fd] = entry
	}
	slot := &entry.read
	if kind == watchWrite {
		slot = &entry.write
	}
	if *slot != nil {
		return nil, E.New("duplicate ", kind, " watch for fd ", fd)
	}
	w := &watch{
		loop:    l,
		fd:      fd,
		kind:    kind,
		handler: handler,
		enabled: true,
	}
	*slot = w
	if err := l.updateLocked(fd, entry); err != nil {
		*slot = nil
		if entry.read == nil && entry.write == nil {
			delete(l.watches, fd)
		}
		return nil, err
	}
	return w, nil
}

// updateLocked recomputes the epoll interest mask for fd from its enabled
// watches. Callers hold l.access.
func (l *Loop) updateLocked(fd int, entry *fdEntry) error {
	var events uint32
	if entry.read != nil && entry.read.enabled {
		events |= unix.EPOLLIN
	}
	if entry.write != nil && entry.write.enabled {
		events |= unix.EPOLLOUT
	}
	if events == 0 {
		if !entry.registered {
			return nil
		}
		entry.registered = false
		if err := unix.EpollCtl(l.epollFd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			return E.Cause(err, "epoll del fd ", fd)
		}
		return nil
	}
	event := &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	}
	if entry.registered {
		if err := unix.EpollCtl(l.epollFd, unix.EPOLL_CTL_MOD, fd, event); err != nil {
			return E.Cause(err, "epoll mod fd ", fd)
		}
		return nil
	}
	if err := unix.EpollCtl(l.epollFd, unix.EPOLL_CTL_ADD, fd, event); err != nil {
		return E.Cause(err, "epoll add fd ", fd)
	}
	entry.registered = true
	return nil
}

// Run dispatches readiness events until Close is called, then releases the
// loop's own descriptors and returns.
func (l *Loop) Run() error {
	events := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(l.epollFd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return E.Cause(err, "epoll wait")
		}
		for i := 0; i < n; i++ {
			event := events[i]
			fd := int(event.Fd)
			if fd == l.wakeFd {
				var drain [8]byte
				_, _ = unix.Read(l.wakeFd, drain[:])
				if l.isClosed() {
					unix.Close(l.epollFd)
					unix.Close(l.wakeFd)
					return nil
				}
				continue
			}
			l.dispatch(fd, event.Events)
		}
	}
}

func (l *Loop) dispatch(fd int, events uint32) {
	// Error and hangup conditions are routed to the read handler so the
	// owner observes them through a failing or zero-length read.
	if events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		if handler := l.lookup(fd, watchRead); handler != nil {
			handler()
		}
	}
	// A handler may have released the write watch, so look it up again.
	if events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		if handler := l.lookup(fd, watchWrite); handler != nil {
			handler()
		}
	}
}

func (l *Loop) lookup(fd int, kind watchKind) func() {
	l.access.Lock()
	defer l.access.Unlock()
	entry := l.watches[fd]
	if entry == nil {
		return nil
	}
	w := entry.read
	if kind == watchWrite {
		w = entry.write
	}
	if w == nil || w.released || !w.enabled {
		return nil
	}
	return w.handler
}

func (l *Loop) isClosed() bool {
	l.access.Lock()
	defer l.access.Unlock()
	return l.closed
}

// Close wakes the dispatch goroutine, which tears the loop down before Run
// returns. Watches still registered stop being delivered.
func (l *Loop) Close() error {
	l.access.Lock()
	if l.closed {
		l.access.Unlock()
		return nil
	}
	l.closed = true
	l.access.Unlock()
	var one [8]byte
	one[0] = 1
	if _, err := unix.Write(l.wakeFd, one[:]); err != nil {
		return E.Cause(err, "wake event loop")
	}
	return nil
}
