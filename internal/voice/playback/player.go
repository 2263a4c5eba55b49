// Package playback plays synthesized audio files one at a time.
package playback

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrTerminated is returned by Handle.Wait after Terminate.
var ErrTerminated = errors.New("playback terminated")

// Player starts playback of one audio file.
type Player interface {
	Play(file, typeArg string) (Handle, error)
}

// Handle is one in-flight playback.
type Handle interface {
	// Wait blocks until playback ends, normally or not.
	Wait() error
	// Terminate stops playback; Wait then returns.
	Terminate() error
}

type PlayerType string

const (
	PlayerTypeProcess PlayerType = "process"
	PlayerTypeSpeaker PlayerType = "speaker"
	PlayerTypeAuto    PlayerType = "auto"
)

func (p PlayerType) String() string {
	return string(p)
}

type PlayerConfig struct {
	Type   string
	Binary string
}

// NewPlayer creates the player backend named by cfg.Type.
func NewPlayer(cfg PlayerConfig) (Player, error) {
	if cfg.Binary == "" {
		cfg.Binary = "play"
	}
	if cfg.Type == PlayerTypeAuto.String() || cfg.Type == "" {
		cfg.Type = bestPlayerFor(cfg.Binary).String()
	}

	switch cfg.Type {
	case PlayerTypeProcess.String():
		path, err := exec.LookPath(cfg.Binary)
		if err != nil {
			return nil, fmt.Errorf("player binary %q not found: %w", cfg.Binary, err)
		}
		return NewProcessPlayer(path), nil

	case PlayerTypeSpeaker.String():
		return NewSpeakerPlayer(), nil

	default:
		return nil, fmt.Errorf("unsupported player type: %s", cfg.Type)
	}
}

// bestPlayerFor prefers the external player and falls back to the
// in-process speaker.
func bestPlayerFor(binary string) PlayerType {
	if _, err := exec.LookPath(binary); err == nil {
		return PlayerTypeProcess
	}
	return PlayerTypeSpeaker
}

// TypeArg maps a file extension onto the player's type argument.
func TypeArg(file string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(file), ".")) {
	case "wav":
		return "wav"
	case "ogg":
		return "ogg"
	default:
		return "mp3"
	}
}
