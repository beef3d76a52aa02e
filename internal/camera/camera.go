// Package camera pulls single JPEG frames from an RTSP (or any ffmpeg-readable) source
// and crops detected faces out of them.
package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/types"
	"github.com/andresmejia3/sentinel-watch/internal/utils"
)

// Source yields frames on demand. A failed capture reports ok=false and never panics.
type Source interface {
	CaptureFrame(ctx context.Context) (types.Frame, bool)
}

const maxFrameBytes = 16 << 20

// FFmpeg captures one frame per call by running ffmpeg against URL.
type FFmpeg struct {
	URL     string
	Binary  string
	Timeout time.Duration

	log zerolog.Logger
	now func() time.Time
}

// NewFFmpeg returns a Source backed by the ffmpeg binary.
func NewFFmpeg(url, binary string, timeout time.Duration, log zerolog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{URL: url, Binary: binary, Timeout: timeout, log: log, now: time.Now}
}

// args builds the ffmpeg invocation.
// Using -vcodec mjpeg ensures we get JPEGs Go can split
// -hide_banner and -loglevel error keep the stderr buffer small
func (f *FFmpeg) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if isRTSP(f.URL) {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args, "-i", f.URL, "-frames:v", "1", "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

func isRTSP(url string) bool {
	return len(url) >= 7 && (url[:7] == "rtsp://" || (len(url) >= 8 && url[:8] == "rtsps://"))
}

// CaptureFrame runs ffmpeg once and returns the first JPEG it emits.
func (f *FFmpeg) CaptureFrame(ctx context.Context) (types.Frame, bool) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	cmd := utils.NewSafeCommandContext(ctx, f.Binary, f.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		f.log.Debug().Err(err).Msg("capture: stdout pipe")
		return types.Frame{}, false
	}
	if err := cmd.Start(); err != nil {
		f.log.Debug().Err(err).Msg("capture: ffmpeg did not start")
		return types.Frame{}, false
	}

	data, readErr := readFirstJpeg(stdout)
	// Drain so ffmpeg can exit, then reap.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if readErr != nil {
		f.log.Debug().Err(readErr).AnErr("exit", waitErr).Str("stderr", cmd.Logs()).Msg("capture: no frame")
		return types.Frame{}, false
	}
	return types.Frame{Data: data, CapturedAt: f.now()}, true
}

var errNoFrame = errors.New("stream ended without a complete JPEG")

// readFirstJpeg scans r with utils.SplitJpeg and returns a copy of the first frame.
func readFirstJpeg(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 512*1024), maxFrameBytes)
	scanner.Split(utils.SplitJpeg)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		return nil, errNoFrame
	}
	return append([]byte(nil), scanner.Bytes()...), nil
}
