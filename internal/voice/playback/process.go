package playback

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"
)

// ProcessPlayer plays files through an external SoX-compatible player:
// `<binary> -q -t <type> <file>`.
type ProcessPlayer struct {
	Binary string
	log    *logrus.Entry
}

func NewProcessPlayer(binary string) *ProcessPlayer {
	return &ProcessPlayer{
		Binary: binary,
		log:    logrus.WithFields(logrus.Fields{"component": "player", "binary": binary}),
	}
}

func (p *ProcessPlayer) Play(file, typeArg string) (Handle, error) {
	cmd := exec.Command(p.Binary, "-q", "-t", typeArg, file)

	// stderr is diagnostic only
	stderr := p.log.WithField("file", file).WriterLevel(logrus.DebugLevel)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stderr.Close()
		return nil, fmt.Errorf("failed to start player: %w", err)
	}

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		stderr.Close()

		h.mu.Lock()
		if h.terminated {
			err = ErrTerminated
		}
		h.err = err
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

type processHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu         sync.Mutex
	terminated bool
	err        error
}

func (h *processHandle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *processHandle) Terminate() error {
	h.mu.Lock()
	h.terminated = true
	h.mu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill player: %w", err)
	}
	return nil
}
