package renderer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitrinehq/vitrine/pkg/log"
	"github.com/vitrinehq/vitrine/pkg/types"
)

// Options configures the Chromium launcher
type Options struct {
	// Binary is the browser executable path
	Binary string

	// ProfileRoot is where per-device user data directories live
	ProfileRoot string

	// ExtraArgs are appended to every browser invocation
	ExtraArgs []string

	// LaunchTimeout bounds the wait for the DevTools endpoint
	// (default: 30 seconds)
	LaunchTimeout time.Duration
}

// ChromiumLauncher launches Chromium sessions with a private profile per
// device and drives them over the DevTools protocol
type ChromiumLauncher struct {
	opts   Options
	logger zerolog.Logger
}

// NewChromiumLauncher creates a launcher
func NewChromiumLauncher(opts Options) *ChromiumLauncher {
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = 30 * time.Second
	}
	return &ChromiumLauncher{
		opts:   opts,
		logger: log.WithComponent("renderer"),
	}
}

// ProfileDir returns the working-state directory used for a device.
// Orphan reclamation matches processes by this exact path.
func (l *ChromiumLauncher) ProfileDir(device *types.Device) string {
	safe := strings.NewReplacer(":", "_", "/", "_").Replace(device.Address)
	return filepath.Join(l.opts.ProfileRoot, safe)
}

// Launch starts a browser for the device and connects to its DevTools
// endpoint. The returned session is ready for Pages/Evaluate calls.
func (l *ChromiumLauncher) Launch(ctx context.Context, spec LaunchSpec) (Session, error) {
	if spec.Device == nil {
		return nil, fmt.Errorf("launch spec requires a device")
	}
	if spec.Target == "" {
		return nil, fmt.Errorf("launch spec requires a target URL")
	}

	profileDir := l.ProfileDir(spec.Device)
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %v", err)
	}

	// A stale port file from a previous run would be read as this
	// launch's endpoint
	portFile := filepath.Join(profileDir, "DevToolsActivePort")
	_ = os.Remove(portFile)

	args := buildArgs(l.opts, spec, profileDir)
	cmd := exec.Command(l.opts.Binary, args...)
	cmd.Env = os.Environ()
	if spec.Device.AudioSink != "" {
		cmd.Env = append(cmd.Env, "PULSE_SINK="+spec.Device.AudioSink)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start renderer: %v", err)
	}

	session := &chromiumSession{
		device:        spec.Device,
		profileDir:    profileDir,
		cmd:           cmd,
		procDone:      make(chan struct{}),
		notifications: make(chan Notification, 8),
		logger:        log.WithDevice(spec.Device.Address),
	}
	go session.reap()

	launchCtx, cancel := context.WithTimeout(ctx, l.opts.LaunchTimeout)
	defer cancel()

	port, wsPath, err := waitForDevTools(launchCtx, portFile, session.procDone)
	if err != nil {
		_ = session.Kill()
		return nil, err
	}
	session.httpBase = fmt.Sprintf("http://127.0.0.1:%d", port)

	wsURL := fmt.Sprintf("ws://127.0.0.1:%d%s", port, wsPath)
	browser, err := dialDevTools(launchCtx, wsURL, session.handleEvent)
	if err != nil {
		_ = session.Kill()
		return nil, fmt.Errorf("%w: %v", ErrTargetClosed, err)
	}
	session.browser = browser

	// Subscribe to target lifecycle so page crashes surface as events
	if _, err := browser.call(launchCtx, "Target.setDiscoverTargets", map[string]bool{"discover": true}); err != nil {
		browser.close()
		_ = session.Kill()
		return nil, fmt.Errorf("%w: %v", ErrTargetClosed, err)
	}

	go session.watch()

	l.logger.Info().
		Str("device", spec.Device.Address).
		Int("pid", session.PID()).
		Str("target", spec.Target).
		Msg("Renderer session launched")

	return session, nil
}

// buildArgs assembles the browser command line for one launch
func buildArgs(opts Options, spec LaunchSpec, profileDir string) []string {
	args := []string{
		"--user-data-dir=" + profileDir,
		"--remote-debugging-port=0",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-session-crashed-bubble",
		"--disable-infobars",
		"--autoplay-policy=no-user-gesture-required",
		"--noerrdialogs",
	}

	if spec.StartMinimized {
		// No reliable minimize switch on Linux; park the window off-screen
		args = append(args, "--window-position=-10000,0")
	} else if spec.Device.Display != nil {
		d := spec.Device.Display
		args = append(args, fmt.Sprintf("--window-position=%d,%d", d.OffsetX, d.OffsetY))
		if d.Width > 0 && d.Height > 0 {
			args = append(args, fmt.Sprintf("--window-size=%d,%d", d.Width, d.Height))
		}
		args = append(args, "--kiosk")
	}

	args = append(args, opts.ExtraArgs...)
	args = append(args, spec.Target)
	return args
}

// waitForDevTools polls the DevToolsActivePort file until the browser
// writes its debugging endpoint
func waitForDevTools(ctx context.Context, portFile string, procDone <-chan struct{}) (int, string, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-procDone:
			return 0, "", ErrTargetClosed
		case <-ctx.Done():
			return 0, "", ErrLaunchTimeout
		case <-ticker.C:
		}

		data, err := os.ReadFile(portFile)
		if err != nil {
			continue
		}

		port, wsPath, ok := parsePortFile(data)
		if !ok {
			// Partially written, try again next tick
			continue
		}
		return port, wsPath, nil
	}
}

// parsePortFile decodes the two-line DevToolsActivePort format:
// port number, then the browser websocket path
func parsePortFile(data []byte) (int, string, bool) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return 0, "", false
	}

	port, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || port <= 0 {
		return 0, "", false
	}

	wsPath := strings.TrimSpace(lines[1])
	if !strings.HasPrefix(wsPath, "/") {
		return 0, "", false
	}

	return port, wsPath, true
}

// chromiumSession is a live browser process plus its DevTools connection
type chromiumSession struct {
	device     *types.Device
	profileDir string
	httpBase   string

	cmd      *exec.Cmd
	waitErr  error
	procDone chan struct{}

	browser *devtoolsConn

	notifyMu       sync.Mutex
	notifyClosed   bool
	notifications  chan Notification
	disconnectOnce sync.Once

	logger zerolog.Logger
}

// reap collects the process exit status
func (s *chromiumSession) reap() {
	s.waitErr = s.cmd.Wait()
	close(s.procDone)
}

// watch emits the disconnect notification when either the process or the
// DevTools connection goes away
func (s *chromiumSession) watch() {
	select {
	case <-s.procDone:
	case <-s.browser.done:
	}
	s.emitDisconnect()
}

func (s *chromiumSession) emitDisconnect() {
	s.disconnectOnce.Do(func() {
		var cause error
		select {
		case <-s.procDone:
			cause = fmt.Errorf("renderer process exited: %v", s.waitErr)
		default:
			cause = s.browser.readErr
		}

		s.logger.Debug().Err(cause).Msg("Session disconnected")
		s.notify(Notification{Kind: NotifyDisconnected, Err: cause})
		s.closeNotifications()
	})
}

// handleEvent receives DevTools protocol events from the browser socket
func (s *chromiumSession) handleEvent(method string, params json.RawMessage) {
	if method != "Target.targetCrashed" {
		return
	}

	var crash struct {
		TargetID  string `json:"targetId"`
		Status    string `json:"status"`
		ErrorCode int    `json:"errorCode"`
	}
	_ = json.Unmarshal(params, &crash)

	s.logger.Warn().
		Str("page", crash.TargetID).
		Str("status", crash.Status).
		Int("code", crash.ErrorCode).
		Msg("Page crashed")

	s.notify(Notification{
		Kind:   NotifyPageCrashed,
		PageID: crash.TargetID,
		Err:    fmt.Errorf("page crashed: %s (code %d)", crash.Status, crash.ErrorCode),
	})
}

func (s *chromiumSession) notify(n Notification) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if s.notifyClosed {
		return
	}
	select {
	case s.notifications <- n:
	default:
		// Consumer not keeping up, drop
	}
}

func (s *chromiumSession) closeNotifications() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if !s.notifyClosed {
		s.notifyClosed = true
		close(s.notifications)
	}
}

// Connected reports whether the browser and its DevTools socket are up
func (s *chromiumSession) Connected() bool {
	select {
	case <-s.procDone:
		return false
	default:
	}
	return s.browser != nil && s.browser.alive()
}

// Pages lists the open page targets via the DevTools HTTP endpoint
func (s *chromiumSession) Pages(ctx context.Context) ([]Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer resp.Body.Close()

	var targets []struct {
		ID                   string `json:"id"`
		Type                 string `json:"type"`
		Title                string `json:"title"`
		URL                  string `json:"url"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("failed to decode page list: %v", err)
	}

	pages := make([]Page, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		pages = append(pages, Page{
			ID:           t.ID,
			Title:        t.Title,
			URL:          t.URL,
			WebSocketURL: t.WebSocketDebuggerURL,
		})
	}
	return pages, nil
}

// pageConn dials the per-page DevTools socket
func (s *chromiumSession) pageConn(ctx context.Context, pageID string) (*devtoolsConn, error) {
	pages, err := s.Pages(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range pages {
		if p.ID == pageID {
			return dialDevTools(ctx, p.WebSocketURL, nil)
		}
	}
	return nil, ErrPageNotFound
}

// Evaluate runs an expression on a page and returns the result as a string
func (s *chromiumSession) Evaluate(ctx context.Context, pageID, expression string) (string, error) {
	conn, err := s.pageConn(ctx, pageID)
	if err != nil {
		return "", err
	}
	defer conn.close()

	raw, err := conn.call(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}

	var res struct {
		Result struct {
			Type        string      `json:"type"`
			Value       interface{} `json:"value"`
			Description string      `json:"description"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("failed to decode evaluate result: %v", err)
	}

	if res.ExceptionDetails != nil {
		return "", fmt.Errorf("evaluation threw: %s", res.ExceptionDetails.Text)
	}
	if res.Result.Value != nil {
		return fmt.Sprintf("%v", res.Result.Value), nil
	}
	return res.Result.Description, nil
}

// Navigate points a page at a new URL
func (s *chromiumSession) Navigate(ctx context.Context, pageID, url string) error {
	conn, err := s.pageConn(ctx, pageID)
	if err != nil {
		return err
	}
	defer conn.close()

	raw, err := conn.call(ctx, "Page.navigate", map[string]string{"url": url})
	if err != nil {
		return err
	}

	var res struct {
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(raw, &res); err == nil && res.ErrorText != "" {
		return fmt.Errorf("navigation failed: %s", res.ErrorText)
	}
	return nil
}

// Close asks the browser to exit and waits for the process; on timeout it
// falls back to a hard kill
func (s *chromiumSession) Close(ctx context.Context) error {
	// Try graceful shutdown first
	if s.browser != nil && s.browser.alive() {
		// The browser may drop the socket before replying; that still
		// counts as progress
		_, _ = s.browser.call(ctx, "Browser.close", nil)
	}

	select {
	case <-s.procDone:
		// Browser exited
	case <-ctx.Done():
		// Timeout - force kill
		if err := s.Kill(); err != nil {
			return fmt.Errorf("failed to force kill renderer: %v", err)
		}
	}

	if s.browser != nil {
		s.browser.close()
	}
	return nil
}

// Kill force-terminates the browser process
func (s *chromiumSession) Kill() error {
	if s.browser != nil {
		_ = s.browser.conn.CloseNow()
	}

	select {
	case <-s.procDone:
		return nil
	default:
	}

	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "already finished") {
		return err
	}
	return nil
}

// Notifications delivers disconnect and crash events
func (s *chromiumSession) Notifications() <-chan Notification {
	return s.notifications
}

// ProfileDir is the session's private working-state directory
func (s *chromiumSession) ProfileDir() string {
	return s.profileDir
}

// PID is the browser process ID
func (s *chromiumSession) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}
