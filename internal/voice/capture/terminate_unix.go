//go:build unix

package capture

import "syscall"

// signalStop lets sox flush and exit cleanly.
func (p *process) signalStop() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}
