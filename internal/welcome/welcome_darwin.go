//go:build darwin

package welcome

import (
	"os/exec"
	"strings"
)

const welcomeTitle = "Card Resource Daemon"
const welcomeMessage = `Card Resource Daemon is now running!

The app runs quietly in your menu bar and coordinates access to card readers connected to your computer, so local applications never fight over the same reader.

You can access the status page at:
http://127.0.0.1:32145

Click the menu bar icon anytime to check status or quit.`

const aboutMessage = `Card Resource Daemon

A lightweight background service that allocates card readers to local applications by profile, so more than one client can share a set of readers without conflicts.

Features:
- Automatic card reader detection
- Profile-based allocation (first / cyclic / random)
- Secure local API (127.0.0.1 only)
- Cross-platform support`

// ShowWelcome displays a native welcome dialog on macOS
func ShowWelcome() {
	script := `display dialog "` + escapeAppleScript(welcomeMessage) + `" with title "` + welcomeTitle + `" buttons {"Got it!"} default button 1 with icon note`
	exec.Command("osascript", "-e", script).Run()
}

// ShowAbout displays a native about dialog on macOS
func ShowAbout(version string) {
	msg := aboutMessage + "\nVersion: " + version
	script := `display dialog "` + escapeAppleScript(msg) + `" with title "About Card Resource Daemon" buttons {"OK"} default button 1 with icon note`
	exec.Command("osascript", "-e", script).Run()
}

func escapeAppleScript(s string) string {
	result := ""
	for _, c := range s {
		if c == '"' {
			result += `\"`
		} else if c == '\\' {
			result += `\\`
		} else {
			result += string(c)
		}
	}
	return result
}

const autostartPromptMessage = `Would you like the Card Resource Daemon to start automatically when you log in?

This ensures readers are always available for allocation by local applications.

You can change this later in the status page settings.`

// PromptAutostart shows a dialog asking if the user wants to enable auto-start.
// Returns true if the user clicked "Yes".
func PromptAutostart() bool {
	script := `display dialog "` + escapeAppleScript(autostartPromptMessage) + `" with title "Card Resource Daemon" buttons {"No", "Yes"} default button 2 with icon note`
	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Yes")
}

const crashReportingPromptMessage = `Help improve the Card Resource Daemon by sending anonymous crash reports?

If the app crashes, diagnostic information will be sent to help us fix bugs faster. No personal data is collected.

You can change this later in the status page settings.`

// PromptCrashReporting shows a dialog asking if the user wants to enable crash reporting.
// Returns true if the user clicked "Yes".
func PromptCrashReporting() bool {
	script := `display dialog "` + escapeAppleScript(crashReportingPromptMessage) + `" with title "Card Resource Daemon" buttons {"No", "Yes"} default button 2 with icon note`
	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Yes")
}
