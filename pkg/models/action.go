package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ActionType discriminates the Action tagged union (spec.md §4.1). It is
// the sole contract between the agent and the daemon, and doubles as the
// tool name exposed to LLM providers.
type ActionType string

const (
	ActionScreenshot      ActionType = "screenshot"
	ActionCursorPosition  ActionType = "cursor_position"
	ActionMoveMouse       ActionType = "move_mouse"
	ActionTraceMouse      ActionType = "trace_mouse"
	ActionClickMouse      ActionType = "click_mouse"
	ActionPressMouse      ActionType = "press_mouse"
	ActionDragMouse       ActionType = "drag_mouse"
	ActionScroll          ActionType = "scroll"
	ActionTypeKeys        ActionType = "type_keys"
	ActionPressKeys       ActionType = "press_keys"
	ActionTypeText        ActionType = "type_text"
	ActionPasteText       ActionType = "paste_text"
	ActionWait            ActionType = "wait"
	ActionApplication     ActionType = "application"
	ActionWriteFile       ActionType = "write_file"
	ActionReadFile        ActionType = "read_file"
)

// AllActionTypes lists every variant, in the order tools are exposed to the
// LLM and validated against.
var AllActionTypes = []ActionType{
	ActionScreenshot, ActionCursorPosition, ActionMoveMouse, ActionTraceMouse,
	ActionClickMouse, ActionPressMouse, ActionDragMouse, ActionScroll,
	ActionTypeKeys, ActionPressKeys, ActionTypeText, ActionPasteText,
	ActionWait, ActionApplication, ActionWriteFile, ActionReadFile,
}

// MouseButton enumerates the closed button set.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// PressDirection enumerates up/down for press_mouse and press_keys.
type PressDirection string

const (
	PressUp   PressDirection = "up"
	PressDown PressDirection = "down"
)

// ScrollDirection enumerates the four scroll directions.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// ApplicationName enumerates the closed application-switch set.
type ApplicationName string

const (
	AppFirefox     ApplicationName = "firefox"
	App1Password   ApplicationName = "1password"
	AppThunderbird ApplicationName = "thunderbird"
	AppVSCode      ApplicationName = "vscode"
	AppTerminal    ApplicationName = "terminal"
	AppDesktop     ApplicationName = "desktop"
	AppDirectory   ApplicationName = "directory"
)

// Coordinates is a screen-space point used throughout the mouse actions.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coordinates) Validate() error {
	if c.X < 0 || c.Y < 0 {
		return fmt.Errorf("InvalidCoordinates: x=%d, y=%d must be >= 0", c.X, c.Y)
	}
	return nil
}

// Action is the tagged union of every automation primitive. Exactly one
// variant pointer is populated according to Type; the zero value is
// invalid. Round-trips through JSON using an "action" discriminator field,
// preserving the camelCase "clickCount" field for wire compatibility.
type Action struct {
	Type ActionType `json:"-"`

	MoveMouse       *MoveMouseAction       `json:"-"`
	TraceMouse      *TraceMouseAction      `json:"-"`
	ClickMouse      *ClickMouseAction      `json:"-"`
	PressMouse      *PressMouseAction      `json:"-"`
	DragMouse       *DragMouseAction       `json:"-"`
	Scroll          *ScrollAction          `json:"-"`
	TypeKeys        *TypeKeysAction        `json:"-"`
	PressKeys       *PressKeysAction       `json:"-"`
	TypeText        *TypeTextAction        `json:"-"`
	PasteText       *PasteTextAction       `json:"-"`
	Wait            *WaitAction            `json:"-"`
	Application     *ApplicationAction     `json:"-"`
	WriteFile       *WriteFileAction       `json:"-"`
	ReadFile        *ReadFileAction        `json:"-"`
}

type MoveMouseAction struct {
	Coordinates Coordinates `json:"coordinates"`
}

type TraceMouseAction struct {
	Path     []Coordinates `json:"path"`
	HoldKeys []string      `json:"hold_keys,omitempty"`
}

type ClickMouseAction struct {
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Button      MouseButton  `json:"button"`
	ClickCount  uint32       `json:"clickCount"`
	HoldKeys    []string     `json:"hold_keys,omitempty"`
}

type PressMouseAction struct {
	Coordinates *Coordinates   `json:"coordinates,omitempty"`
	Button      MouseButton    `json:"button"`
	Press       PressDirection `json:"press"`
}

type DragMouseAction struct {
	Path     []Coordinates `json:"path"`
	Button   MouseButton   `json:"button"`
	HoldKeys []string      `json:"hold_keys,omitempty"`
}

type ScrollAction struct {
	Coordinates  *Coordinates    `json:"coordinates,omitempty"`
	Direction    ScrollDirection `json:"direction"`
	ScrollCount  uint32          `json:"scrollCount"`
	HoldKeys     []string        `json:"hold_keys,omitempty"`
}

type TypeKeysAction struct {
	Keys  []string `json:"keys"`
	Delay *uint64  `json:"delay,omitempty"`
}

type PressKeysAction struct {
	Keys  []string       `json:"keys"`
	Press PressDirection `json:"press"`
}

type TypeTextAction struct {
	Text      string  `json:"text"`
	Delay     *uint64 `json:"delay,omitempty"`
	Sensitive *bool   `json:"sensitive,omitempty"`
}

type PasteTextAction struct {
	Text string `json:"text"`
}

type WaitAction struct {
	DurationMS uint64 `json:"duration"`
}

type ApplicationAction struct {
	Application ApplicationName `json:"application"`
}

type WriteFileAction struct {
	Path string `json:"path"`
	Data string `json:"data"`
}

type ReadFileAction struct {
	Path string `json:"path"`
}

// forbiddenPathChars are rejected anywhere in a file action's path, per
// spec.md §4.1, to close off shell-metacharacter and traversal injection
// through a path that is eventually handed to OS-level file APIs.
const forbiddenPathChars = "~$`;|&"

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("InvalidPath: path must be non-empty")
	}
	if len(path) > 4096 {
		return fmt.Errorf("InvalidPath: path exceeds 4096 bytes")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("InvalidPath: path must not contain \"..\"")
	}
	if strings.ContainsAny(path, forbiddenPathChars) {
		return fmt.Errorf("InvalidPath: path contains a forbidden character")
	}
	return nil
}

func validateHoldKeys(keys []string) error {
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("hold_keys entries must be non-empty")
		}
	}
	return nil
}

// Validate enforces the per-variant validation rules in spec.md §4.1. It
// runs identically at the agent (before dispatch) and at the daemon
// (before execution) — the duplication is deliberate, see spec.md §9.
func (a Action) Validate() error {
	switch a.Type {
	case ActionScreenshot, ActionCursorPosition:
		return nil

	case ActionMoveMouse:
		if a.MoveMouse == nil {
			return fmt.Errorf("move_mouse: payload required")
		}
		return a.MoveMouse.Coordinates.Validate()

	case ActionTraceMouse:
		if a.TraceMouse == nil || len(a.TraceMouse.Path) == 0 {
			return fmt.Errorf("trace_mouse: path must be non-empty")
		}
		for i, c := range a.TraceMouse.Path {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("trace_mouse: path[%d]: %w", i, err)
			}
		}
		return validateHoldKeys(a.TraceMouse.HoldKeys)

	case ActionClickMouse:
		if a.ClickMouse == nil {
			return fmt.Errorf("click_mouse: payload required")
		}
		if a.ClickMouse.Coordinates != nil {
			if err := a.ClickMouse.Coordinates.Validate(); err != nil {
				return err
			}
		}
		switch a.ClickMouse.Button {
		case ButtonLeft, ButtonRight, ButtonMiddle:
		default:
			return fmt.Errorf("click_mouse: invalid button %q", a.ClickMouse.Button)
		}
		if a.ClickMouse.ClickCount < 1 {
			return fmt.Errorf("click_mouse: click_count must be >= 1")
		}
		return validateHoldKeys(a.ClickMouse.HoldKeys)

	case ActionPressMouse:
		if a.PressMouse == nil {
			return fmt.Errorf("press_mouse: payload required")
		}
		if a.PressMouse.Coordinates != nil {
			if err := a.PressMouse.Coordinates.Validate(); err != nil {
				return err
			}
		}
		switch a.PressMouse.Button {
		case ButtonLeft, ButtonRight, ButtonMiddle:
		default:
			return fmt.Errorf("press_mouse: invalid button %q", a.PressMouse.Button)
		}
		switch a.PressMouse.Press {
		case PressUp, PressDown:
		default:
			return fmt.Errorf("press_mouse: invalid press %q", a.PressMouse.Press)
		}
		return nil

	case ActionDragMouse:
		if a.DragMouse == nil || len(a.DragMouse.Path) == 0 {
			return fmt.Errorf("drag_mouse: path must be non-empty")
		}
		for i, c := range a.DragMouse.Path {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("drag_mouse: path[%d]: %w", i, err)
			}
		}
		switch a.DragMouse.Button {
		case ButtonLeft, ButtonRight, ButtonMiddle:
		default:
			return fmt.Errorf("drag_mouse: invalid button %q", a.DragMouse.Button)
		}
		return validateHoldKeys(a.DragMouse.HoldKeys)

	case ActionScroll:
		if a.Scroll == nil {
			return fmt.Errorf("scroll: payload required")
		}
		if a.Scroll.Coordinates != nil {
			if err := a.Scroll.Coordinates.Validate(); err != nil {
				return err
			}
		}
		switch a.Scroll.Direction {
		case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
		default:
			return fmt.Errorf("scroll: invalid direction %q", a.Scroll.Direction)
		}
		if a.Scroll.ScrollCount < 1 {
			return fmt.Errorf("scroll: scroll_count must be >= 1")
		}
		return validateHoldKeys(a.Scroll.HoldKeys)

	case ActionTypeKeys:
		if a.TypeKeys == nil || len(a.TypeKeys.Keys) == 0 {
			return fmt.Errorf("type_keys: keys must be non-empty")
		}
		for _, k := range a.TypeKeys.Keys {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("type_keys: key entries must be non-empty")
			}
		}
		if a.TypeKeys.Delay != nil && *a.TypeKeys.Delay > 60_000 {
			return fmt.Errorf("type_keys: delay exceeds 60000ms")
		}
		return nil

	case ActionPressKeys:
		if a.PressKeys == nil || len(a.PressKeys.Keys) == 0 {
			return fmt.Errorf("press_keys: keys must be non-empty")
		}
		for _, k := range a.PressKeys.Keys {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("press_keys: key entries must be non-empty")
			}
		}
		switch a.PressKeys.Press {
		case PressUp, PressDown:
		default:
			return fmt.Errorf("press_keys: invalid press %q", a.PressKeys.Press)
		}
		return nil

	case ActionTypeText:
		if a.TypeText == nil || a.TypeText.Text == "" {
			return fmt.Errorf("type_text: text must be non-empty")
		}
		if a.TypeText.Delay != nil && *a.TypeText.Delay > 60_000 {
			return fmt.Errorf("type_text: delay exceeds 60000ms")
		}
		return nil

	case ActionPasteText:
		if a.PasteText == nil || a.PasteText.Text == "" {
			return fmt.Errorf("paste_text: text must be non-empty")
		}
		return nil

	case ActionWait:
		if a.Wait == nil || a.Wait.DurationMS < 1 {
			return fmt.Errorf("wait: duration must be >= 1")
		}
		return nil

	case ActionApplication:
		if a.Application == nil {
			return fmt.Errorf("application: payload required")
		}
		switch a.Application.Application {
		case AppFirefox, App1Password, AppThunderbird, AppVSCode, AppTerminal, AppDesktop, AppDirectory:
			return nil
		default:
			return fmt.Errorf("application: unknown application %q", a.Application.Application)
		}

	case ActionWriteFile:
		if a.WriteFile == nil {
			return fmt.Errorf("write_file: payload required")
		}
		if err := validatePath(a.WriteFile.Path); err != nil {
			return err
		}
		if a.WriteFile.Data == "" {
			return fmt.Errorf("write_file: data must be non-empty")
		}
		if _, err := base64.StdEncoding.DecodeString(a.WriteFile.Data); err != nil {
			return fmt.Errorf("write_file: data is not valid base64: %w", err)
		}
		return nil

	case ActionReadFile:
		if a.ReadFile == nil {
			return fmt.Errorf("read_file: payload required")
		}
		return validatePath(a.ReadFile.Path)

	default:
		return fmt.Errorf("action: unknown type %q", a.Type)
	}
}

// wireAction is the flattened discriminated-union wire shape for Action,
// matching the original `#[serde(tag = "action")]` shape and preserving the
// camelCase clickCount/scrollCount fields spec.md §6 calls out explicitly.
type wireAction struct {
	Action ActionType `json:"action"`

	Coordinates     *Coordinates      `json:"coordinates,omitempty"`
	Path            []Coordinates     `json:"path,omitempty"`
	HoldKeys        []string          `json:"hold_keys,omitempty"`
	Button          MouseButton       `json:"button,omitempty"`
	ClickCount      uint32            `json:"clickCount,omitempty"`
	Press           PressDirection    `json:"press,omitempty"`
	Direction       ScrollDirection   `json:"direction,omitempty"`
	ScrollCount     uint32            `json:"scrollCount,omitempty"`
	Keys            []string          `json:"keys,omitempty"`
	Delay           *uint64           `json:"delay,omitempty"`
	Text            string            `json:"text,omitempty"`
	Sensitive       *bool             `json:"sensitive,omitempty"`
	Duration        uint64            `json:"duration,omitempty"`
	Application     ApplicationName   `json:"application,omitempty"`
	FilePath        string            `json:"file_path,omitempty"`
	Data            string            `json:"data,omitempty"`
}

// MarshalJSON flattens the active variant alongside the "action" tag.
func (a Action) MarshalJSON() ([]byte, error) {
	w := wireAction{Action: a.Type}
	switch a.Type {
	case ActionMoveMouse:
		if a.MoveMouse != nil {
			w.Coordinates = &a.MoveMouse.Coordinates
		}
	case ActionTraceMouse:
		if a.TraceMouse != nil {
			w.Path = a.TraceMouse.Path
			w.HoldKeys = a.TraceMouse.HoldKeys
		}
	case ActionClickMouse:
		if a.ClickMouse != nil {
			w.Coordinates = a.ClickMouse.Coordinates
			w.Button = a.ClickMouse.Button
			w.ClickCount = a.ClickMouse.ClickCount
			w.HoldKeys = a.ClickMouse.HoldKeys
		}
	case ActionPressMouse:
		if a.PressMouse != nil {
			w.Coordinates = a.PressMouse.Coordinates
			w.Button = a.PressMouse.Button
			w.Press = a.PressMouse.Press
		}
	case ActionDragMouse:
		if a.DragMouse != nil {
			w.Path = a.DragMouse.Path
			w.Button = a.DragMouse.Button
			w.HoldKeys = a.DragMouse.HoldKeys
		}
	case ActionScroll:
		if a.Scroll != nil {
			w.Coordinates = a.Scroll.Coordinates
			w.Direction = a.Scroll.Direction
			w.ScrollCount = a.Scroll.ScrollCount
			w.HoldKeys = a.Scroll.HoldKeys
		}
	case ActionTypeKeys:
		if a.TypeKeys != nil {
			w.Keys = a.TypeKeys.Keys
			w.Delay = a.TypeKeys.Delay
		}
	case ActionPressKeys:
		if a.PressKeys != nil {
			w.Keys = a.PressKeys.Keys
			w.Press = a.PressKeys.Press
		}
	case ActionTypeText:
		if a.TypeText != nil {
			w.Text = a.TypeText.Text
			w.Delay = a.TypeText.Delay
			w.Sensitive = a.TypeText.Sensitive
		}
	case ActionPasteText:
		if a.PasteText != nil {
			w.Text = a.PasteText.Text
		}
	case ActionWait:
		if a.Wait != nil {
			w.Duration = a.Wait.DurationMS
		}
	case ActionApplication:
		if a.Application != nil {
			w.Application = a.Application.Application
		}
	case ActionWriteFile:
		if a.WriteFile != nil {
			w.FilePath = a.WriteFile.Path
			w.Data = a.WriteFile.Data
		}
	case ActionReadFile:
		if a.ReadFile != nil {
			w.FilePath = a.ReadFile.Path
		}
	}
	return json.Marshal(w)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	a.Type = w.Action
	switch a.Type {
	case ActionScreenshot, ActionCursorPosition:
	case ActionMoveMouse:
		if w.Coordinates == nil {
			return fmt.Errorf("move_mouse: coordinates required")
		}
		a.MoveMouse = &MoveMouseAction{Coordinates: *w.Coordinates}
	case ActionTraceMouse:
		a.TraceMouse = &TraceMouseAction{Path: w.Path, HoldKeys: w.HoldKeys}
	case ActionClickMouse:
		a.ClickMouse = &ClickMouseAction{Coordinates: w.Coordinates, Button: w.Button, ClickCount: w.ClickCount, HoldKeys: w.HoldKeys}
	case ActionPressMouse:
		a.PressMouse = &PressMouseAction{Coordinates: w.Coordinates, Button: w.Button, Press: w.Press}
	case ActionDragMouse:
		a.DragMouse = &DragMouseAction{Path: w.Path, Button: w.Button, HoldKeys: w.HoldKeys}
	case ActionScroll:
		a.Scroll = &ScrollAction{Coordinates: w.Coordinates, Direction: w.Direction, ScrollCount: w.ScrollCount, HoldKeys: w.HoldKeys}
	case ActionTypeKeys:
		a.TypeKeys = &TypeKeysAction{Keys: w.Keys, Delay: w.Delay}
	case ActionPressKeys:
		a.PressKeys = &PressKeysAction{Keys: w.Keys, Press: w.Press}
	case ActionTypeText:
		a.TypeText = &TypeTextAction{Text: w.Text, Delay: w.Delay, Sensitive: w.Sensitive}
	case ActionPasteText:
		a.PasteText = &PasteTextAction{Text: w.Text}
	case ActionWait:
		a.Wait = &WaitAction{DurationMS: w.Duration}
	case ActionApplication:
		a.Application = &ApplicationAction{Application: w.Application}
	case ActionWriteFile:
		a.WriteFile = &WriteFileAction{Path: w.FilePath, Data: w.Data}
	case ActionReadFile:
		a.ReadFile = &ReadFileAction{Path: w.FilePath}
	default:
		return fmt.Errorf("action: unknown type %q", w.Action)
	}
	return nil
}
