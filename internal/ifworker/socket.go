package ifworker

// rawSocket is the minimal surface the interface worker needs from a raw
// link-layer socket: read whole frames, write whole frames, close. The
// real implementation (socket_linux.go) opens an AF_PACKET/SOCK_RAW
// socket bound to one interface; tests substitute a fake satisfying this
// interface so the decode/reply/request logic can run without root or a
// real NIC.
type rawSocket interface {
	ReadFrame(buf []byte) (int, error)
	WriteFrame(frame []byte) error
	Close() error
}

// RawSocket is an exported alias of rawSocket so other packages' tests can
// construct a Worker (via NewForTesting) around a fake socket without a
// real interface or root privileges.
type RawSocket = rawSocket
