package renderer

import (
	"context"
	"errors"

	"github.com/vitrinehq/vitrine/pkg/types"
)

// Launch failure sentinels. Transient ones are worth one bounded retry;
// everything else aborts the launch immediately.
var (
	// ErrLaunchTimeout means the browser never exposed its DevTools
	// endpoint within the launch timeout
	ErrLaunchTimeout = errors.New("renderer: launch timed out")

	// ErrTargetClosed means the browser exited or closed its DevTools
	// connection while we were still setting the session up
	ErrTargetClosed = errors.New("renderer: target closed during launch")

	// ErrNotConnected means the session's browser connection is gone
	ErrNotConnected = errors.New("renderer: session not connected")

	// ErrPageNotFound means the requested page ID is not open
	ErrPageNotFound = errors.New("renderer: page not found")
)

// Transient reports whether a launch error is worth one inner retry
func Transient(err error) bool {
	return errors.Is(err, ErrLaunchTimeout) || errors.Is(err, ErrTargetClosed)
}

// Page describes one open surface inside a renderer session
type Page struct {
	ID           string
	Title        string
	URL          string
	WebSocketURL string
}

// NotificationKind classifies session notifications
type NotificationKind string

const (
	// NotifyDisconnected means the browser process or its DevTools
	// connection went away
	NotifyDisconnected NotificationKind = "disconnected"

	// NotifyPageCrashed means a page inside the session crashed while
	// the browser itself is still up
	NotifyPageCrashed NotificationKind = "page-crashed"
)

// Notification is a message-passing event emitted by a session
type Notification struct {
	Kind   NotificationKind
	PageID string // Set for page-crashed
	Err    error  // Underlying cause when known
}

// LaunchSpec describes one session launch
type LaunchSpec struct {
	// Target is the URL the fresh session opens
	Target string

	// Device the session is bound to; its display geometry and audio
	// sink shape the browser invocation
	Device *types.Device

	// StartMinimized parks the window off-screen instead of on the
	// device's display region
	StartMinimized bool
}

// Session is a live browser bound to one device
type Session interface {
	// Connected reports whether the DevTools connection is alive
	Connected() bool

	// Pages enumerates the open surfaces
	Pages(ctx context.Context) ([]Page, error)

	// Evaluate runs a trivial expression on a page and returns the
	// result rendered as a string (liveness probe)
	Evaluate(ctx context.Context, pageID, expression string) (string, error)

	// Navigate points a page at a new URL
	Navigate(ctx context.Context, pageID, url string) error

	// Close shuts the browser down gracefully; if it does not exit
	// before ctx expires the process is killed
	Close(ctx context.Context) error

	// Kill force-terminates the browser process
	Kill() error

	// Notifications delivers disconnect and crash events. The channel
	// is closed when the session is fully torn down.
	Notifications() <-chan Notification

	// ProfileDir is the private working-state directory of this session
	ProfileDir() string

	// PID is the browser process ID (0 when not running)
	PID() int
}

// Launcher creates renderer sessions
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Session, error)

	// ProfileDir maps a device to the working-state directory its
	// sessions use. Teardown paths reap orphaned processes by profile
	// dir even when no live session handle remains.
	ProfileDir(device *types.Device) string
}
