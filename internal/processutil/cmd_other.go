//go:build !windows

package processutil

import "os/exec"

// HideConsoleWindow is a no-op outside Windows: there is no attached
// console window to suppress.
func HideConsoleWindow(cmd *exec.Cmd) {
	_ = cmd
}
