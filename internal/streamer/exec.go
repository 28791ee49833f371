package streamer

import (
	"bufio"
	"context"
	"io"
	"os/exec"

	"github.com/sothis/remote-agent/internal/cancel"
	"github.com/sothis/remote-agent/internal/errs"
	"github.com/sothis/remote-agent/internal/video"
)

// ExecStreamer runs an external encoder (ffmpeg, a webcam capture helper)
// as a subprocess and treats its stdout as a raw Annex-B elementary stream,
// splitting it into access units on start codes and classifying each one.
// It mirrors ShellHook's exec.CommandContext usage, generalized from
// "run once to completion" to "run until cancelled, streaming output."
type ExecStreamer struct {
	Command string
	Args    []string
}

// NewExecStreamer builds a streamer that invokes command with args.
func NewExecStreamer(command string, args ...string) *ExecStreamer {
	return &ExecStreamer{Command: command, Args: args}
}

// Stream launches the subprocess and reads its stdout until EOF, the
// context implied by token is cancelled, or the process exits non-zero.
// It reports ExternalToolMissingError if the binary cannot be located,
// and EncoderError for any other subprocess failure.
func (e *ExecStreamer) Stream(onPacket func(video.Packet), token cancel.Token) error {
	if _, err := exec.LookPath(e.Command); err != nil {
		return errs.NewExternalToolMissingError(e.Command)
	}

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	go func() {
		select {
		case <-token.Done():
			cancelCtx()
		case <-ctx.Done():
		}
	}()

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errs.NewEncoderError("streamer.stdout_pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return errs.NewEncoderError("streamer.start", err)
	}

	var generation uint64
	var pts int64
	splitErr := splitAccessUnits(stdout, func(unit []byte) {
		pkt := video.NewPacket(unit, pts, generation)
		pts++
		onPacket(pkt)
	})

	waitErr := cmd.Wait()
	if token.Cancelled() {
		return nil
	}
	if splitErr != nil && splitErr != io.EOF {
		return errs.NewEncoderError("streamer.read", splitErr)
	}
	if waitErr != nil {
		return errs.NewEncoderError("streamer.exit", waitErr)
	}
	return nil
}

// splitAccessUnits scans r for Annex-B start codes and invokes onUnit with
// each delimited access unit (including its leading start code), so the
// resulting slices are valid input to video.Classify.
func splitAccessUnits(r io.Reader, onUnit func([]byte)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	tmp := make([]byte, 32*1024)
	for {
		n, err := br.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			buf = flushCompleteUnits(buf, onUnit)
		}
		if err != nil {
			if len(buf) > 0 {
				onUnit(buf)
			}
			return err
		}
	}
}

// flushCompleteUnits emits every access unit in buf except the last
// (possibly incomplete) one, returning the remainder to accumulate further.
func flushCompleteUnits(buf []byte, onUnit func([]byte)) []byte {
	starts := findStartCodeOffsets(buf)
	if len(starts) < 2 {
		return buf
	}
	for i := 0; i < len(starts)-1; i++ {
		onUnit(buf[starts[i]:starts[i+1]])
	}
	return append([]byte(nil), buf[starts[len(starts)-1]:]...)
}

func findStartCodeOffsets(buf []byte) []int {
	var offsets []int
	for i := 0; i+2 < len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			offsets = append(offsets, i)
		}
	}
	return offsets
}
