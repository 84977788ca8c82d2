package automation

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
)

// takeScreenshot captures the active X11 display with ImageMagick's import,
// the same screenshot helper invocation the daemon shells out to on a real
// desktop (xdotool alone has no capture primitive).
func takeScreenshot(ctx context.Context, display int) ([]byte, error) {
	f, err := os.CreateTemp("", "cua-screenshot-*.png")
	if err != nil {
		return nil, wrapError(KindIO, err, "create screenshot temp file")
	}
	path := f.Name()
	_ = f.Close()
	defer os.Remove(path)

	cmd := exec.CommandContext(ctx, "import", "-window", "root", "-display", displayArg(display), path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, wrapError(KindDisplayUnavailable, err, "import screenshot failed: %s", stderr.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapError(KindIO, err, "read screenshot file")
	}
	return data, nil
}

func displayArg(n int) string {
	if n <= 0 {
		return ":0"
	}
	return ":" + strconv.Itoa(n)
}
