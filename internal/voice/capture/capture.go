// Package capture spawns the external process that records microphone
// audio as raw 16 kHz mono signed 16-bit PCM on its stdout.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// Source starts capture processes.
type Source interface {
	Start(ctx context.Context) (Process, error)
}

// Process is one running capture.
type Process interface {
	// Stdout yields raw PCM until the process exits.
	Stdout() io.Reader
	// Terminate asks the process to stop.
	Terminate() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err is the exit error, valid after Done.
	Err() error
}

const (
	DefaultBinary     = "sox"
	DefaultSampleRate = 16000
)

// DefaultDriver returns the sox input driver for goos.
func DefaultDriver(goos string) string {
	switch goos {
	case "linux":
		return "alsa"
	case "windows":
		return "waveaudio"
	default:
		return "coreaudio"
	}
}

type SoxConfig struct {
	Binary     string
	Driver     string
	SampleRate int
}

// Sox records from the default input device with sox.
type Sox struct {
	binary     string
	driver     string
	sampleRate int
	log        *logrus.Entry
}

func NewSox(cfg SoxConfig) *Sox {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Driver == "" {
		cfg.Driver = DefaultDriver(runtime.GOOS)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Sox{
		binary:     cfg.Binary,
		driver:     cfg.Driver,
		sampleRate: cfg.SampleRate,
		log:        logrus.WithFields(logrus.Fields{"component": "capture", "binary": cfg.Binary}),
	}
}

// Args returns the sox command line after the binary.
func (s *Sox) Args() []string {
	return []string{
		"-t", s.driver, "-d",
		"-t", "raw",
		"-b", "16",
		"-e", "signed-integer",
		"-c", "1",
		"-r", strconv.Itoa(s.sampleRate),
		"-",
	}
}

// Start spawns sox. ctx only bounds the spawn; use Terminate to stop it.
func (s *Sox) Start(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := exec.LookPath(s.binary)
	if err != nil {
		return nil, fmt.Errorf("capture binary %q not found: %w", s.binary, err)
	}

	pr, pw := io.Pipe()
	cmd := exec.Command(path, s.Args()...)
	cmd.Stdout = pw

	// stderr is diagnostic only
	stderr := s.log.WriterLevel(logrus.DebugLevel)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stderr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start capture: %w", err)
	}
	s.log.WithField("pid", cmd.Process.Pid).Debug("capture started")

	p := &process{cmd: cmd, stdout: pr, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		stderr.Close()
		pw.CloseWithError(io.EOF)

		p.mu.Lock()
		if p.terminated {
			err = nil
		}
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	stdout *io.PipeReader
	done   chan struct{}

	mu         sync.Mutex
	terminated bool
	err        error
}

func (p *process) Stdout() io.Reader     { return p.stdout }
func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *process) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.signalStop(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop capture: %w", err)
	}
	return nil
}
