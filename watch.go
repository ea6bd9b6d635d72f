package async

// Watch is a registration of interest in read or write readiness of a
// descriptor. The owning event loop invokes the registered handler on its own
// goroutine whenever the descriptor is ready and the watch is enabled.
//
// Release unregisters the watch so no further handler invocation can occur.
// It must be called exactly once; the watch is unusable afterwards.
type Watch interface {
	SetEnabled(enabled bool)
	Release()
}

// Watcher creates readiness watches for raw descriptors. Watches start
// enabled.
type Watcher interface {
	WatchRead(fd int, handler func()) (Watch, error)
	WatchWrite(fd int, handler func()) (Watch, error)
}
