package automation

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// runXdotool invokes xdotool with args, returning stdout and a classified
// error on non-zero exit, mirroring applications.rs's Command::new pattern
// (spawn, wait, classify stderr) translated to exec.CommandContext.
func runXdotool(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "xdotool", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", wrapError(KindTimeout, ctx.Err(), "xdotool %s timed out", strings.Join(args, " "))
		}
		return "", wrapError(KindIO, err, "xdotool %s failed: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func moveMouse(ctx context.Context, c models.Coordinates) error {
	_, err := runXdotool(ctx, "mousemove", strconv.Itoa(c.X), strconv.Itoa(c.Y))
	return err
}

func cursorPosition(ctx context.Context) (models.Coordinates, error) {
	out, err := runXdotool(ctx, "getmouselocation", "--shell")
	if err != nil {
		return models.Coordinates{}, err
	}
	var x, y int
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "X="); ok {
			x, _ = strconv.Atoi(strings.TrimSpace(v))
		}
		if v, ok := strings.CutPrefix(line, "Y="); ok {
			y, _ = strconv.Atoi(strings.TrimSpace(v))
		}
	}
	return models.Coordinates{X: x, Y: y}, nil
}

func clickMouse(ctx context.Context, a models.ClickMouseAction) error {
	if a.Coordinates != nil {
		if err := moveMouse(ctx, *a.Coordinates); err != nil {
			return err
		}
	}
	button, err := xdotoolButton(a.Button)
	if err != nil {
		return err
	}
	count := a.ClickCount
	if count == 0 {
		count = 1
	}
	args := []string{"click", "--repeat", strconv.Itoa(int(count))}
	if len(a.HoldKeys) > 0 {
		return withHeldKeysOptional(ctx, a.HoldKeys, func() error {
			_, err := runXdotool(ctx, append(args, button)...)
			return err
		})
	}
	_, err = runXdotool(ctx, append(args, button)...)
	return err
}

func pressMouse(ctx context.Context, a models.PressMouseAction) error {
	if a.Coordinates != nil {
		if err := moveMouse(ctx, *a.Coordinates); err != nil {
			return err
		}
	}
	button, err := xdotoolButton(a.Button)
	if err != nil {
		return err
	}
	verb := "mousedown"
	if a.Press == models.PressUp {
		verb = "mouseup"
	}
	_, err = runXdotool(ctx, verb, button)
	return err
}

func dragMouse(ctx context.Context, a models.DragMouseAction) error {
	if len(a.Path) == 0 {
		return newError(KindValidation, "drag_mouse requires a non-empty path")
	}
	button, err := xdotoolButton(a.Button)
	if err != nil {
		return err
	}
	return withHeldKeysOptional(ctx, a.HoldKeys, func() error {
		if err := moveMouse(ctx, a.Path[0]); err != nil {
			return err
		}
		if _, err := runXdotool(ctx, "mousedown", button); err != nil {
			return err
		}
		for _, p := range a.Path[1:] {
			if err := moveMouse(ctx, p); err != nil {
				_, _ = runXdotool(ctx, "mouseup", button)
				return err
			}
		}
		_, err := runXdotool(ctx, "mouseup", button)
		return err
	})
}

func traceMouse(ctx context.Context, a models.TraceMouseAction) error {
	if err := withHeldKeysOptional(ctx, a.HoldKeys, func() error {
		for _, p := range a.Path {
			if err := moveMouse(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	return nil
}

func scroll(ctx context.Context, a models.ScrollAction) error {
	if a.Coordinates != nil {
		if err := moveMouse(ctx, *a.Coordinates); err != nil {
			return err
		}
	}
	button, err := xdotoolScrollButton(a.Direction)
	if err != nil {
		return err
	}
	count := a.ScrollCount
	if count == 0 {
		count = 1
	}
	_, err = runXdotool(ctx, "click", "--repeat", strconv.Itoa(int(count)), button)
	return err
}

func typeKeys(ctx context.Context, a models.TypeKeysAction) error {
	if len(a.Keys) == 0 {
		return newError(KindValidation, "type_keys requires a non-empty keys list")
	}
	return withHeldKeysOptional(ctx, nil, func() error {
		args := []string{"key"}
		if a.Delay != nil {
			args = append(args, "--delay", strconv.FormatUint(*a.Delay, 10))
		}
		_, err := runXdotool(ctx, append(args, a.Keys...)...)
		return err
	})
}

func pressKeys(ctx context.Context, a models.PressKeysAction) error {
	if len(a.Keys) == 0 {
		return newError(KindValidation, "press_keys requires a non-empty keys list")
	}
	verb := "keydown"
	if a.Press == models.PressUp {
		verb = "keyup"
	}
	_, err := runXdotool(ctx, append([]string{verb}, a.Keys...)...)
	return err
}

func typeText(ctx context.Context, a models.TypeTextAction) error {
	if a.Text == "" {
		return newError(KindValidation, "type_text requires non-empty text")
	}
	args := []string{"type"}
	if a.Delay != nil {
		args = append(args, "--delay", strconv.FormatUint(*a.Delay, 10))
	}
	args = append(args, "--", a.Text)
	_, err := runXdotool(ctx, args...)
	return err
}

func pasteText(ctx context.Context, a models.PasteTextAction) error {
	if a.Text == "" {
		return newError(KindValidation, "paste_text requires non-empty text")
	}
	cmd := exec.CommandContext(ctx, "xclip", "-selection", "clipboard")
	cmd.Stdin = strings.NewReader(a.Text)
	if err := cmd.Run(); err != nil {
		return wrapError(KindIO, err, "xclip failed")
	}
	_, err := runXdotool(ctx, "key", "ctrl+v")
	return err
}

func wait(ctx context.Context, a models.WaitAction) error {
	select {
	case <-ctx.Done():
		return wrapError(KindTimeout, ctx.Err(), "wait interrupted")
	case <-time.After(time.Duration(a.DurationMS) * time.Millisecond):
		return nil
	}
}

// withHeldKeysOptional holds down modifier keys for the duration of fn,
// releasing them even if fn fails.
func withHeldKeysOptional(ctx context.Context, keys []string, fn func() error) error {
	if len(keys) == 0 {
		return fn()
	}
	if _, err := runXdotool(ctx, append([]string{"keydown"}, keys...)...); err != nil {
		return err
	}
	defer func() { _, _ = runXdotool(ctx, append([]string{"keyup"}, keys...)...) }()
	return fn()
}

func xdotoolButton(b models.MouseButton) (string, error) {
	switch b {
	case models.ButtonLeft:
		return "1", nil
	case models.ButtonMiddle:
		return "2", nil
	case models.ButtonRight:
		return "3", nil
	default:
		return "", newError(KindValidation, "unknown mouse button %q", b)
	}
}

func xdotoolScrollButton(d models.ScrollDirection) (string, error) {
	switch d {
	case models.ScrollUp:
		return "4", nil
	case models.ScrollDown:
		return "5", nil
	case models.ScrollLeft:
		return "6", nil
	case models.ScrollRight:
		return "7", nil
	default:
		return "", newError(KindValidation, "unknown scroll direction %q", d)
	}
}
