/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// FilterOptions carries the player specific post-processing applied by the
// transcoder: a basic 3-band equalizer and left/right/mono channel mixing.
type FilterOptions struct {
	EQBass         float64
	EQMid          float64
	EQTreble       float64
	OutputChannels string // stereo, mono, left, right
}

// BuildPlayerArgs assembles the ffmpeg argv that re-encodes a raw PCM
// stream on stdin into the player's output format on stdout.
func BuildPlayerArgs(opts FilterOptions, inputFormat, outputFormat Format, verbose bool) []string {
	logLevel := "quiet"
	if verbose {
		logLevel = "warning"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", logLevel,
		"-ignore_unknown",
	}

	channelLayout := "stereo"
	if inputFormat.Channels == 1 {
		channelLayout = "mono"
	}
	args = append(args,
		"-f", string(inputFormat.ContentType),
		"-ac", fmt.Sprint(inputFormat.Channels),
		"-channel_layout", channelLayout,
		"-ar", fmt.Sprint(inputFormat.SampleRate),
		"-i", "-",
		"-metadata", `title="Music Assistant"`,
	)

	// filter chain
	var filters []string
	if opts.EQBass != 0 {
		filters = append(filters, fmt.Sprintf("equalizer=frequency=100:width=200:width_type=h:gain=%g", opts.EQBass))
	}
	if opts.EQMid != 0 {
		filters = append(filters, fmt.Sprintf("equalizer=frequency=900:width=1800:width_type=h:gain=%g", opts.EQMid))
	}
	if opts.EQTreble != 0 {
		filters = append(filters, fmt.Sprintf("equalizer=frequency=9000:width=18000:width_type=h:gain=%g", opts.EQTreble))
	}
	switch opts.OutputChannels {
	case "left":
		filters = append(filters, "pan=mono|c0=FL")
	case "right":
		filters = append(filters, "pan=mono|c0=FR")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	switch outputFormat.ContentType {
	case ContentTypeFLAC:
		// compression level 0 prevents latency spikes on cast receivers
		args = append(args, "-f", "flac", "-compression_level", "0")
	case ContentTypeAAC:
		args = append(args, "-f", "adts", "-c:a", "aac", "-b:a", "320k")
	case ContentTypeMP3:
		args = append(args, "-f", "mp3", "-c:a", "mp3", "-b:a", "320k")
	default:
		args = append(args, "-f", string(outputFormat.ContentType))
	}
	args = append(args, "-ac", fmt.Sprint(outputFormat.Channels))
	if outputFormat.ContentType.IsLossless() {
		args = append(args, "-ar", fmt.Sprint(outputFormat.SampleRate))
	}
	return append(args, "-")
}

// Process supervises one ffmpeg child. PCM is written to stdin, the
// encoded stream is read from stdout. Close kills the child on all exit
// paths so a dangling HTTP request never leaks a process.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	cancel context.CancelFunc
	logger zerolog.Logger
}

// StartProcess launches the binary with the given args.
func StartProcess(ctx context.Context, bin string, args []string, logger zerolog.Logger) (*Process, error) {
	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}
	logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("transcoder started")
	return &Process{cmd: cmd, stdin: stdin, stdout: stdout, cancel: cancel, logger: logger}, nil
}

// Write feeds raw input to the child's stdin.
func (p *Process) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// CloseWrite signals EOF on the child's stdin.
func (p *Process) CloseWrite() error {
	return p.stdin.Close()
}

// Read reads encoded output from the child's stdout.
func (p *Process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Close terminates the child and reaps it.
func (p *Process) Close() error {
	p.cancel()
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	err := p.cmd.Wait()
	if err != nil && !strings.Contains(err.Error(), "killed") {
		p.logger.Debug().Err(err).Msg("transcoder exited")
	}
	return nil
}

// CheckAudioSupport probes the ffmpeg binary and reports its presence,
// libsoxr resampler support and version string.
func CheckAudioSupport(ctx context.Context, bin string) (present, libsoxr bool, version string) {
	out, err := exec.CommandContext(ctx, bin, "-version").CombinedOutput()
	if err != nil {
		return false, false, ""
	}
	text := string(out)
	libsoxr = strings.Contains(text, "--enable-libsoxr")
	if fields := strings.Fields(text); len(fields) >= 3 && fields[0] == "ffmpeg" {
		version = fields[2]
	}
	return true, libsoxr, version
}
