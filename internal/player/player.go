// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package player launches and supervises the external video player.
package player

import (
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// mpv flags tuned for playing a stream that is still downloading: the
// receiver must treat the HTTP source as seekable and buffer generously.
var mpvDefaultArgs = []string{
	"--force-seekable=yes",
	"--cache=yes",
	"--demuxer-max-bytes=150M",
	"--hwdec=auto",
}

// ExitStatus describes how a player process ended.
type ExitStatus struct {
	Code     int
	Signaled bool
}

// Launcher starts player processes. The zero command means mpv with its
// default streaming flags; a custom command replaces both.
type Launcher struct {
	command string
	args    []string
}

func NewLauncher(command string, args []string) *Launcher {
	if command == "" {
		command = "mpv"
		args = mpvDefaultArgs
	}
	return &Launcher{command: command, args: args}
}

// Available reports whether the player binary resolves on PATH.
func (l *Launcher) Available() error {
	_, err := exec.LookPath(l.command)
	if err != nil {
		return errors.Wrapf(err, "player %q not found", l.command)
	}
	return nil
}

// Command returns the configured player binary name.
func (l *Launcher) Command() string { return l.command }

// Launch starts the player against the stream URL and begins supervising
// it. The returned process is already running.
func (l *Launcher) Launch(url string) (*Process, error) {
	args := append(append([]string{}, l.args...), url)
	cmd := exec.Command(l.command, args...)

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start player %q", l.command)
	}

	p := &Process{cmd: cmd, done: make(chan struct{})}
	go p.supervise()

	log.Info().Str("player", l.command).Int("pid", cmd.Process.Pid).Str("url", url).Msg("player launched")
	return p, nil
}

// Process is a running player under supervision.
type Process struct {
	cmd    *exec.Cmd
	done   chan struct{}
	status ExitStatus
	err    error
}

func (p *Process) supervise() {
	err := p.cmd.Wait()
	p.status = exitStatusOf(p.cmd, err)
	if err != nil && !p.status.Signaled {
		p.err = err
	}
	close(p.done)

	log.Debug().
		Int("code", p.status.Code).
		Bool("signaled", p.status.Signaled).
		Msg("player exited")
}

func exitStatusOf(cmd *exec.Cmd, err error) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ExitStatus{Code: -1, Signaled: true}
		}
		return ExitStatus{Code: ee.ExitCode()}
	}
	return ExitStatus{Code: -1}
}

// Pid returns the player's process ID.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Wait blocks until the player exits or ctx is done. A player killed by a
// signal is a normal end of playback, not an error.
func (p *Process) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-p.done:
		return p.status, p.err
	case <-ctx.Done():
		return ExitStatus{Code: -1}, ctx.Err()
	}
}

// Terminate asks the player to exit and escalates to SIGKILL if it does
// not go within the grace period. Safe to call after the process is gone.
func (p *Process) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return nil
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(3 * time.Second):
	}

	_ = p.cmd.Process.Kill()
	<-p.done
	return nil
}
