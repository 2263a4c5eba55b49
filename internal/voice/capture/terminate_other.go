//go:build !unix

package capture

// signalStop kills the process; there is no SIGTERM equivalent here.
func (p *process) signalStop() error {
	return p.cmd.Process.Kill()
}
