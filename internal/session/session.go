// Package session owns the single browser session: launching it, probing it
// for liveness, detecting login state and getting past login walls.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/taobao-scraper/internal/dom"
)

var (
	ErrNotInitialized = errors.New("browser session not initialized")
	ErrSessionClosed  = errors.New("browser session was closed")
	ErrLoginRequired  = errors.New("login required")
	ErrLoginTimeout   = errors.New("timed out waiting for manual login")
	ErrBusy           = errors.New("browser session is busy with another request")
)

type State string

const (
	StateNotInitialized State = "not_initialized"
	StateInitializing   State = "initializing"
	StateReady          State = "ready"
	StateLoginRequired  State = "login_required"
	StateError          State = "error"
)

// Status is the outcome reported by Initialize.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusLoginRequired      Status = "login_required"
	StatusAlreadyInitialized Status = "already_initialized"
	StatusError              Status = "error"
)

type InitResult struct {
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
}

// Handle is a launched browser holding the session page.
type Handle interface {
	Page() dom.Page
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context) (Handle, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Handle, error)

func (f LauncherFunc) Launch(ctx context.Context) (Handle, error) {
	return f(ctx)
}

type Config struct {
	HomeURL           string
	LoginHosts        []string
	LoginMarker       string
	LoginCookies      []string
	QuickConfirmText  string
	QuickConfirm      []string
	NavigationTimeout time.Duration
	HomeSettle        time.Duration
	ConfirmPause      time.Duration
	LoginWait         time.Duration
	PollInterval      time.Duration
}

func DefaultConfig() Config {
	return Config{
		HomeURL:          "https://www.taobao.com",
		LoginHosts:       []string{"login.taobao.com", "login.tmall.com"},
		LoginMarker:      ".site-nav-login-info-nick",
		LoginCookies:     []string{"dnk", "_tb_token_"},
		QuickConfirmText: "快速进入",
		QuickConfirm: []string{
			"#login > div.login-content.nc-outer-box > div > div.fm-btn > button",
			"button.fm-submit",
			"button:has-text('快速进入')",
			"button[type='submit'].fm-button",
		},
		NavigationTimeout: 30 * time.Second,
		HomeSettle:        2 * time.Second,
		ConfirmPause:      3 * time.Second,
		LoginWait:         3 * time.Minute,
		PollInterval:      time.Second,
	}
}

// Controller is the single owner of the browser session. The page is lent
// to one caller at a time through Acquire.
type Controller struct {
	cfg      Config
	launcher Launcher
	logger   *slog.Logger

	// slot admits one page user at a time; a full slot means busy.
	slot chan struct{}

	mu     sync.Mutex
	state  State
	handle Handle
	page   dom.Page
}

func NewController(launcher Launcher, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		launcher: launcher,
		logger:   logger.With("component", "session"),
		slot:     make(chan struct{}, 1),
		state:    StateNotInitialized,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Info("session state changed", "from", prev, "to", s)
	}
}

func (c *Controller) tryEnter() bool {
	select {
	case c.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Controller) leave() {
	<-c.slot
}

// Initialize launches the browser if needed, visits the home page and
// reports the login state. Calling it on a live, ready session is a no-op.
func (c *Controller) Initialize(ctx context.Context) (*InitResult, error) {
	if !c.tryEnter() {
		return nil, ErrBusy
	}
	defer c.leave()

	c.mu.Lock()
	handle, state := c.handle, c.state
	c.mu.Unlock()

	if handle != nil {
		if c.alive() {
			if state == StateReady {
				return &InitResult{
					Status:  StatusAlreadyInitialized,
					Message: "Browser session already active",
				}, nil
			}
		} else {
			c.logger.Warn("browser no longer reachable, relaunching")
			c.teardown()
			handle = nil
		}
	}

	if handle == nil {
		c.setState(StateInitializing)
		h, err := c.launcher.Launch(ctx)
		if err != nil {
			c.setState(StateError)
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		c.mu.Lock()
		c.handle = h
		c.page = h.Page()
		c.mu.Unlock()
	} else {
		c.setState(StateInitializing)
	}

	return c.probe(ctx), nil
}

// probe visits the home page and settles the login state.
func (c *Controller) probe(ctx context.Context) *InitResult {
	page := c.currentPage()

	if err := page.Navigate(c.cfg.HomeURL, c.cfg.NavigationTimeout); err != nil {
		c.logger.Error("home page navigation failed", "url", c.cfg.HomeURL, "error", err)
		c.setState(StateError)
		return &InitResult{
			Status:  StatusError,
			Message: fmt.Sprintf("Initialization test failed: %v", err),
		}
	}
	if err := dom.Sleep(ctx, c.cfg.HomeSettle); err != nil {
		c.setState(StateError)
		return &InitResult{Status: StatusError, Message: fmt.Sprintf("Initialization test failed: %v", err)}
	}

	if c.OnLoginHost(page.URL()) {
		c.logger.Info("redirected to login page", "url", page.URL())
		if c.quickConfirm(ctx, page) && !c.OnLoginHost(page.URL()) {
			c.logger.Info("quick confirm accepted")
		}
	}

	loggedIn, username := c.checkLogin(page)
	if loggedIn && !c.OnLoginHost(page.URL()) {
		c.setState(StateReady)
		return &InitResult{
			Status:   StatusSuccess,
			Message:  "Browser initialized successfully. Already logged in as: " + username,
			Username: username,
		}
	}

	c.setState(StateLoginRequired)
	return &InitResult{
		Status:  StatusLoginRequired,
		Message: "Please log in manually in the opened browser window",
	}
}

// Acquire lends the session page to one caller. The returned release func
// must be called when done; it is safe to call more than once.
func (c *Controller) Acquire(ctx context.Context) (dom.Page, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if !c.tryEnter() {
		return nil, nil, ErrBusy
	}

	c.mu.Lock()
	handle, state := c.handle, c.state
	c.mu.Unlock()

	if handle == nil {
		c.leave()
		return nil, nil, ErrNotInitialized
	}
	if !c.alive() {
		c.logger.Warn("liveness probe failed, tearing down session")
		c.teardown()
		c.leave()
		return nil, nil, ErrSessionClosed
	}
	if state != StateReady && state != StateLoginRequired {
		c.leave()
		return nil, nil, fmt.Errorf("%w: session state is %s", ErrNotInitialized, state)
	}

	var once sync.Once
	release := func() { once.Do(c.leave) }
	return c.currentPage(), release, nil
}

// HandleLoginWall deals with a redirect to a login host on page. It first
// tries the quick-confirm control; if the wall stays it either fails with
// ErrLoginRequired or, when wait is set, blocks for a manual login.
func (c *Controller) HandleLoginWall(ctx context.Context, page dom.Page, wait bool) error {
	if !c.OnLoginHost(page.URL()) {
		return nil
	}

	c.logger.Warn("login wall detected", "url", page.URL())
	c.setState(StateLoginRequired)

	if c.quickConfirm(ctx, page) && !c.OnLoginHost(page.URL()) {
		c.logger.Info("quick confirm accepted", "url", page.URL())
		c.setState(StateReady)
		return nil
	}

	if !wait {
		return ErrLoginRequired
	}
	return c.waitForLogin(ctx, page)
}

// WaitForLogin blocks until the session page leaves the login hosts or the
// login wait runs out.
func (c *Controller) WaitForLogin(ctx context.Context) error {
	if !c.tryEnter() {
		return ErrBusy
	}
	defer c.leave()

	page := c.currentPage()
	if page == nil {
		return ErrNotInitialized
	}
	if !c.OnLoginHost(page.URL()) {
		if ok, _ := c.checkLogin(page); ok {
			c.setState(StateReady)
			return nil
		}
	}
	return c.waitForLogin(ctx, page)
}

func (c *Controller) waitForLogin(ctx context.Context, page dom.Page) error {
	c.logger.Info("waiting for manual login", "timeout", c.cfg.LoginWait)

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.LoginWait)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if current := page.URL(); current != "" && !c.OnLoginHost(current) {
			break
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("manual login wait expired", "timeout", c.cfg.LoginWait)
			return ErrLoginTimeout
		case <-ticker.C:
		}
	}

	if ok, username := c.checkLogin(page); ok {
		c.logger.Info("manual login detected", "username", username)
		c.setState(StateReady)
	} else {
		c.logger.Warn("left login page but login signals incomplete", "url", page.URL())
	}
	return nil
}

// CheckLogin reports whether the session page shows a logged-in user.
func (c *Controller) CheckLogin(ctx context.Context) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	page := c.currentPage()
	if page == nil {
		return false, "", ErrNotInitialized
	}
	ok, username := c.checkLogin(page)
	return ok, username, nil
}

// checkLogin requires the marker element and a non-empty value for every
// configured cookie.
func (c *Controller) checkLogin(page dom.Page) (bool, string) {
	marker, err := page.Query(c.cfg.LoginMarker)
	if err != nil || marker == nil {
		c.logger.Debug("login marker absent", "selector", c.cfg.LoginMarker)
		return false, ""
	}
	username, _ := marker.Text()
	username = strings.TrimSpace(username)

	cookies, err := page.Cookies()
	if err != nil {
		c.logger.Debug("failed to read cookies", "error", err)
		return false, ""
	}
	for _, name := range c.cfg.LoginCookies {
		if cookies[name] == "" {
			c.logger.Debug("login cookie missing", "cookie", name)
			return false, ""
		}
	}
	return true, username
}

// quickConfirm tries each selector in order. A match must carry the
// confirm text before it is clicked.
func (c *Controller) quickConfirm(ctx context.Context, page dom.Page) bool {
	for i, sel := range c.cfg.QuickConfirm {
		el, err := page.Query(sel)
		if err != nil || el == nil {
			continue
		}
		text, err := el.Text()
		if err != nil || !strings.Contains(text, c.cfg.QuickConfirmText) {
			continue
		}

		c.logger.Info("clicking quick confirm", "selector", sel, "attempt", i+1)
		if err := el.Click(); err != nil {
			c.logger.Warn("quick confirm click failed", "selector", sel, "error", err)
			continue
		}
		_ = dom.Sleep(ctx, c.cfg.ConfirmPause)
		return true
	}
	return false
}

// OnLoginHost reports whether raw points at one of the login hosts.
func (c *Controller) OnLoginHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, h := range c.cfg.LoginHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (c *Controller) alive() bool {
	page := c.currentPage()
	if page == nil {
		return false
	}
	_, err := page.Evaluate("1 + 1")
	return err == nil
}

func (c *Controller) currentPage() dom.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// teardown releases the browser and resets to not_initialized.
func (c *Controller) teardown() {
	c.mu.Lock()
	h := c.handle
	c.handle, c.page = nil, nil
	c.mu.Unlock()

	if h != nil {
		if err := h.Close(); err != nil {
			c.logger.Warn("failed to close stale browser", "error", err)
		}
	}
	c.setState(StateNotInitialized)
}

func (c *Controller) Close() error {
	c.mu.Lock()
	h := c.handle
	c.handle, c.page = nil, nil
	c.state = StateNotInitialized
	c.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Close()
}
