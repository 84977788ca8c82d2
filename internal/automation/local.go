package automation

import (
	"context"
	"fmt"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// LocalExecutor implements Executor by shelling out to xdotool, wmctrl, and
// ImageMagick's import on the local desktop.
type LocalExecutor struct {
	DisplayNumber int
}

// NewLocalExecutor creates an Executor targeting the given X11 display
// number (0 for the default display).
func NewLocalExecutor(displayNumber int) *LocalExecutor {
	return &LocalExecutor{DisplayNumber: displayNumber}
}

func (e *LocalExecutor) Execute(ctx context.Context, action models.Action) (Result, error) {
	switch action.Type {
	case models.ActionScreenshot:
		data, err := takeScreenshot(ctx, e.DisplayNumber)
		if err != nil {
			return Result{}, err
		}
		return Result{Screenshot: data}, nil

	case models.ActionCursorPosition:
		pos, err := cursorPosition(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{CursorPos: &pos}, nil

	case models.ActionMoveMouse:
		return Result{}, moveMouse(ctx, action.MoveMouse.Coordinates)

	case models.ActionTraceMouse:
		return Result{}, traceMouse(ctx, *action.TraceMouse)

	case models.ActionClickMouse:
		return Result{}, clickMouse(ctx, *action.ClickMouse)

	case models.ActionPressMouse:
		return Result{}, pressMouse(ctx, *action.PressMouse)

	case models.ActionDragMouse:
		return Result{}, dragMouse(ctx, *action.DragMouse)

	case models.ActionScroll:
		return Result{}, scroll(ctx, *action.Scroll)

	case models.ActionTypeKeys:
		return Result{}, typeKeys(ctx, *action.TypeKeys)

	case models.ActionPressKeys:
		return Result{}, pressKeys(ctx, *action.PressKeys)

	case models.ActionTypeText:
		return Result{}, typeText(ctx, *action.TypeText)

	case models.ActionPasteText:
		return Result{}, pasteText(ctx, *action.PasteText)

	case models.ActionWait:
		return Result{}, wait(ctx, *action.Wait)

	case models.ActionApplication:
		return Result{}, switchToApplication(ctx, action.Application.Application)

	case models.ActionWriteFile:
		return Result{}, writeFile(*action.WriteFile)

	case models.ActionReadFile:
		data, err := readFile(*action.ReadFile)
		if err != nil {
			return Result{}, err
		}
		return Result{FileData: data}, nil

	default:
		return Result{}, fmt.Errorf("automation: unsupported action type %q", action.Type)
	}
}
