package computeruse

import (
	"encoding/json"
	"fmt"

	"context"
)

// Point is one waypoint of a drag action's path.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Action is one GUI action requested by the provider's computer_call
// item, normalized from the Responses API's computer_use_preview JSON
// shape.
type Action struct {
	Type    string  `json:"type"`
	X       int     `json:"x,omitempty"`
	Y       int     `json:"y,omitempty"`
	Button  string  `json:"button,omitempty"`
	Path    []Point `json:"path,omitempty"`
	Text    string  `json:"text,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	ScrollX int     `json:"scroll_x,omitempty"`
	ScrollY int     `json:"scroll_y,omitempty"`
	URL     string  `json:"url,omitempty"`
	Ms      int     `json:"ms,omitempty"`
}

// ParseAction decodes a provider computer_call's JSON arguments into an
// Action.
func ParseAction(raw json.RawMessage) (Action, error) {
	var a Action
	if len(raw) == 0 {
		return a, fmt.Errorf("empty computer_call arguments")
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("decode computer_call arguments: %w", err)
	}
	if a.Type == "" {
		return a, fmt.Errorf("computer_call arguments missing type")
	}
	return a, nil
}

// Result is what executing an Action against the sandbox produced.
type Result struct {
	// ScreenshotPNG is the raw clean screenshot taken after the action.
	// The computer-use loop annotates and re-encodes it before it is
	// fed back to the model or stored as an artifact.
	ScreenshotPNG []byte
	CurrentURL    string
}

// Sandbox is the external browser collaborator this package drives.
// Its actual implementation (a headless browser, a remote VNC-backed
// VM, ...) lives outside this repository; this package only defines
// the contract the computer-use loop needs.
type Sandbox interface {
	// Resize sets the virtual display size before the loop begins.
	Resize(ctx context.Context, widthPx, heightPx int) error
	// Navigate loads a URL, used both for the loop's initial navigation
	// and for explicit "navigate" actions.
	Navigate(ctx context.Context, url string) error
	// Execute performs a single action and returns the post-action
	// screenshot.
	Execute(ctx context.Context, action Action) (Result, error)
	// Screenshot captures the current frame without performing an
	// action, used for the loop's very first frame.
	Screenshot(ctx context.Context) (Result, error)
	// Close releases the sandbox (browser process, remote session).
	Close() error
}

// DefaultDisplayWidth and DefaultDisplayHeight are used when a step's
// tool spec omits display_width/display_height.
const (
	DefaultDisplayWidth  = 1024
	DefaultDisplayHeight = 768
)

// IsInteractive reports whether an action type is a click-family
// interactive action, used to pick the post-action sleep duration
//.
func IsInteractive(actionType string) bool {
	switch actionType {
	case "click", "double_click", "hover", "drag", "type", "keypress":
		return true
	default:
		return false
	}
}
