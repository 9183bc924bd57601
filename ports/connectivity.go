package ports

type ConnectivityEvent string

const (
	ConnectivityOnline  ConnectivityEvent = "online"
	ConnectivityOffline ConnectivityEvent = "offline"
)

// ConnectivityMonitor reports connectivity transitions. The engine consumes
// these events as the sole trigger for sync state changes; it never probes
// the network itself.
type ConnectivityMonitor interface {
	// Events yields connectivity transitions. The channel is owned by
	// the monitor and closes when the monitor shuts down.
	Events() <-chan ConnectivityEvent
}
