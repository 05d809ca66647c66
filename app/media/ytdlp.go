package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

const (
	defaultYTDLPTimeout = 180 * time.Second
	defaultUserAgent    = "Mozilla/5.0"
)

// DefaultMirrors are the post URL templates tried in order.
var DefaultMirrors = []string{
	"https://x.com/i/status/%s",
	"https://twitter.com/i/status/%s",
}

var (
	transientSignatures = []string{"JSONDecodeError", "Failed to parse JSON"}
	noMediaSignatures   = []string{"No video could be found"}
)

// YTDLP downloads the video of a post with an external yt-dlp binary.
type YTDLP struct {
	// Log is a logger
	Log logger.Logger

	// Path is the yt-dlp executable, looked up in PATH when not absolute
	Path string

	// Timeout is a hard limit for one invocation; the process is killed on expiry
	Timeout time.Duration

	// CookiesFile is passed with --cookies when the file exists
	CookiesFile string

	// ExtraArgs are appended before the target URL
	ExtraArgs []string

	// Mirrors are fmt templates taking the post id, DefaultMirrors when empty
	Mirrors []string

	// UserAgent is sent as a request header
	UserAgent string
}

// FetchVideo tries every mirror in turn and returns the path of the merged
// mp4 inside dir. It returns ErrNoMedia when yt-dlp reports there is no video
// and ErrTimeout when an invocation had to be killed.
func (y *YTDLP) FetchVideo(ctx context.Context, id e.PostID, dir string) (string, error) {
	log := y.Log.With("post_id", id)

	output := filepath.Join(dir, id.String()+".mp4")
	mirrors := y.Mirrors
	if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}

	var lastErr error
	for _, mirror := range mirrors {
		if err := removeIfExists(output); err != nil {
			log.Warn("removing partial output", "path", output, "error", err)
		}

		target := fmt.Sprintf(mirror, id)
		err := y.run(ctx, target, output)
		if err == nil {
			return output, nil
		}

		lastErr = err
		_ = removeIfExists(output)

		switch {
		case errors.Is(err, e.ErrTimeout), errors.Is(err, e.ErrNoMedia):
			return "", err
		case ctx.Err() != nil:
			return "", ctx.Err()
		}

		log.Debug("yt-dlp attempt failed", "url", target, "error", err)
	}

	return "", lastErr
}

func (y *YTDLP) run(ctx context.Context, target, output string) error {
	timeout := y.Timeout
	if timeout <= 0 {
		timeout = defaultYTDLPTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := y.Path
	if path == "" {
		path = "yt-dlp"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, path, y.args(target, output)...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("running yt-dlp after %s: %w", timeout, e.ErrTimeout)
	}

	if err != nil {
		return classifyFailure(err, stderr.String())
	}

	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("checking output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output %s is empty", output)
	}

	return nil
}

func (y *YTDLP) args(target, output string) []string {
	ua := y.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	args := []string{
		"--quiet",
		"--no-warnings",
		"-f", "bv*+ba/best",
		"--merge-output-format", "mp4",
		"--retries", "5",
		"--fragment-retries", "5",
		"--add-header", "User-Agent: " + ua,
		"--add-header", "Accept-Language: en-US,en;q=0.9",
		"-o", output,
	}

	if y.CookiesFile != "" {
		if _, err := os.Stat(y.CookiesFile); err == nil {
			args = append(args, "--cookies", y.CookiesFile)
		}
	}

	args = append(args, y.ExtraArgs...)
	return append(args, target)
}

// classifyFailure maps yt-dlp stderr to ErrNoMedia for a definitive miss.
// Transient and unknown failures are returned as plain errors so the next
// mirror is tried.
func classifyFailure(runErr error, stderr string) error {
	msg := lastLine(stderr)

	for _, sig := range noMediaSignatures {
		if strings.Contains(stderr, sig) {
			return fmt.Errorf("yt-dlp: %s: %w", msg, e.ErrNoMedia)
		}
	}

	for _, sig := range transientSignatures {
		if strings.Contains(stderr, sig) {
			return fmt.Errorf("yt-dlp transient failure: %s", msg)
		}
	}

	if msg == "" {
		return fmt.Errorf("running yt-dlp: %w", runErr)
	}

	return fmt.Errorf("running yt-dlp: %w: %s", runErr, msg)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
