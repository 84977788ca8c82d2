package automation

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// launchCommands lists, per application, the candidate binaries to try in
// order when no existing window can be focused.
var launchCommands = map[models.ApplicationName][]string{
	models.AppFirefox:     {"firefox"},
	models.App1Password:   {"1password", "/opt/1Password/1password"},
	models.AppThunderbird: {"thunderbird"},
	models.AppVSCode:      {"code", "code-oss", "/usr/bin/code"},
	models.AppTerminal:    {"xfce4-terminal", "gnome-terminal", "konsole", "xterm"},
	models.AppDirectory:   {"thunar", "nautilus", "dolphin", "pcmanfm"},
}

// windowNameHints lists the wmctrl/xdotool window-title substrings to match
// when looking for an already-open window, independent of the launch binary
// name (e.g. VS Code's window title says "code", not "vscode").
var windowNameHints = map[models.ApplicationName]string{
	models.AppFirefox:     "firefox",
	models.App1Password:   "1password",
	models.AppThunderbird: "thunderbird",
	models.AppVSCode:      "code",
	models.AppTerminal:    "terminal",
	models.AppDirectory:   "file manager",
}

// switchToApplication focuses an existing window for app if one exists,
// falling back to launching the first candidate binary that starts
// successfully. "desktop" has no window to focus; it minimizes everything.
func switchToApplication(ctx context.Context, app models.ApplicationName) error {
	if app == models.AppDesktop {
		return showDesktop(ctx)
	}

	hint, ok := windowNameHints[app]
	if ok {
		if err := focusExistingWindow(ctx, hint); err == nil {
			return nil
		}
	}

	commands, ok := launchCommands[app]
	if !ok {
		return newError(KindApplicationFailed, "application %q is not supported", app)
	}
	return launchApplication(ctx, string(app), commands)
}

func focusExistingWindow(ctx context.Context, nameHint string) error {
	out, err := runWmctrl(ctx, "-l")
	if err != nil {
		return focusWindowWithXdotool(ctx, nameHint)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(strings.ToLower(line), nameHint) {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if _, err := runWmctrl(ctx, "-i", "-a", fields[0]); err == nil {
				return nil
			}
		}
	}
	return newError(KindApplicationFailed, "no existing window found for %q", nameHint)
}

func focusWindowWithXdotool(ctx context.Context, nameHint string) error {
	_, err := runXdotool(ctx, "search", "--name", nameHint, "windowactivate")
	if err != nil {
		return wrapError(KindApplicationFailed, err, "no existing window found for %q", nameHint)
	}
	return nil
}

func launchApplication(ctx context.Context, appName string, commands []string) error {
	var lastErr error
	for _, command := range commands {
		cmd := exec.CommandContext(ctx, command)
		if err := cmd.Start(); err != nil {
			lastErr = err
			continue
		}
		go func() { _ = cmd.Wait() }()
		return nil
	}
	return wrapError(KindApplicationFailed, lastErr, "failed to launch %s with any known command", appName)
}

func showDesktop(ctx context.Context) error {
	if _, err := runWmctrl(ctx, "-k", "on"); err == nil {
		return nil
	}
	_, err := runXdotool(ctx, "key", "super+d")
	if err != nil {
		return wrapError(KindApplicationFailed, err, "failed to show desktop")
	}
	return nil
}

func runWmctrl(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "wmctrl", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", wrapError(KindIO, err, "wmctrl %s failed: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
