//go:build linux

package tray

// TrayApp manages the system tray icon and menu.
// On Linux, system tray support is not available, so this is a stub.
type TrayApp struct {
	serverAddr string
	onQuit     func()
}

// New creates a new TrayApp instance
func New(serverAddr string, onQuit func()) *TrayApp {
	return &TrayApp{
		serverAddr: serverAddr,
		onQuit:     onQuit,
	}
}

// Run is a no-op on Linux and returns immediately.
func (t *TrayApp) Run() {}

// RunWithServer shows no tray on Linux; it calls serverStart on the calling goroutine.
func (t *TrayApp) RunWithServer(serverStart func()) {
	if serverStart != nil {
		serverStart()
	}
}

// SetReaderCount updates the displayed reader count
func (t *TrayApp) SetReaderCount(count int) {}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return false
}
