package async

// DisconnectReason classifies why a connection ended. It is delivered exactly
// once through Handler.HandleDisconnect.
type DisconnectReason uint8

const (
	// HostNotFound is never generated by a Connection itself: it is reserved
	// for connectors that resolve names before handing over a socket.
	HostNotFound DisconnectReason = iota
	RemoteDisconnected
	SystemError
	RecvBufferOverflow
)

func (r DisconnectReason) String() string {
	switch r {
	case HostNotFound:
		return "host not found"
	case RemoteDisconnected:
		return "remote disconnected"
	case SystemError:
		return "system error"
	case RecvBufferOverflow:
		return "receive buffer overflow"
	default:
		return "unknown"
	}
}

type connectionState uint8

const (
	stateConnected connectionState = iota
	stateDisconnecting
	stateDisconnected
)
