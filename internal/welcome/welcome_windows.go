//go:build windows

package welcome

import (
	"syscall"
	"unsafe"
)

var (
	user32          = syscall.NewLazyDLL("user32.dll")
	procMessageBoxW = user32.NewProc("MessageBoxW")
)

const (
	MB_OK           = 0x00000000
	MB_YESNO        = 0x00000004
	MB_ICONINFO     = 0x00000040
	MB_ICONQUESTION = 0x00000020
	IDYES           = 6
)

const welcomeTitle = "Card Resource Daemon"
const welcomeMessage = `Card Resource Daemon is now running!

The app runs quietly in your system tray and coordinates access to card readers connected to your computer, so local applications never fight over the same reader.

You can access the status page at:
http://127.0.0.1:32145

Click the tray icon anytime to check status or quit.`

const aboutMessage = `Card Resource Daemon

A lightweight background service that allocates card readers to local applications by profile, so more than one client can share a set of readers without conflicts.

Features:
• Automatic card reader detection
• Profile-based allocation (first / cyclic / random)
• Secure local API (127.0.0.1 only)
• Cross-platform support`

// ShowWelcome displays a native welcome dialog on Windows
func ShowWelcome() {
	messageBox(welcomeTitle, welcomeMessage)
}

// ShowAbout displays a native about dialog on Windows
func ShowAbout(version string) {
	msg := aboutMessage + "\nVersion: " + version
	messageBox("About Card Resource Daemon", msg)
}

func messageBox(title, message string) {
	titlePtr, _ := syscall.UTF16PtrFromString(title)
	messagePtr, _ := syscall.UTF16PtrFromString(message)
	procMessageBoxW.Call(
		0,
		uintptr(unsafe.Pointer(messagePtr)),
		uintptr(unsafe.Pointer(titlePtr)),
		uintptr(MB_OK|MB_ICONINFO),
	)
}

const autostartPromptMessage = `Would you like the Card Resource Daemon to start automatically when you log in?

This ensures readers are always available for allocation by local applications.

You can change this later in the status page settings.`

// PromptAutostart shows a dialog asking if the user wants to enable auto-start.
// Returns true if the user clicked "Yes".
func PromptAutostart() bool {
	titlePtr, _ := syscall.UTF16PtrFromString("Card Resource Daemon")
	messagePtr, _ := syscall.UTF16PtrFromString(autostartPromptMessage)
	ret, _, _ := procMessageBoxW.Call(
		0,
		uintptr(unsafe.Pointer(messagePtr)),
		uintptr(unsafe.Pointer(titlePtr)),
		uintptr(MB_YESNO|MB_ICONQUESTION),
	)
	return ret == IDYES
}

const crashReportingPromptMessage = `Help improve the Card Resource Daemon by sending anonymous crash reports?

If the app crashes, diagnostic information will be sent to help us fix bugs faster. No personal data is collected.

You can change this later in the status page settings.`

// PromptCrashReporting shows a dialog asking if the user wants to enable crash reporting.
// Returns true if the user clicked "Yes".
func PromptCrashReporting() bool {
	titlePtr, _ := syscall.UTF16PtrFromString("Card Resource Daemon")
	messagePtr, _ := syscall.UTF16PtrFromString(crashReportingPromptMessage)
	ret, _, _ := procMessageBoxW.Call(
		0,
		uintptr(unsafe.Pointer(messagePtr)),
		uintptr(unsafe.Pointer(titlePtr)),
		uintptr(MB_YESNO|MB_ICONQUESTION),
	)
	return ret == IDYES
}
