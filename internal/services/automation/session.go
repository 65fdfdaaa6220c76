// Package automation drives the automation target's HTML forms through a
// headless Chrome session.
package automation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
	"github.com/ternarybob/sheetporter/internal/services/mapping"
)

// ReasonNoSuccessIndicator is the soft failure reason when the page shows no success marker
const ReasonNoSuccessIndicator = "no success indicator"

const pollInterval = 150 * time.Millisecond

// State of a session
type State int

const (
	StateUninitialized State = iota
	StateLaunched
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLaunched:
		return "launched"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	errNotLaunched = errors.New("browser session not launched")
	errClosed      = errors.New("browser session closed")
)

// Session is a single browser context against the automation target.
// It is used by one job goroutine; Close may be called from anywhere.
type Session struct {
	cfg    Config
	logger arbor.ILogger

	mu            sync.Mutex
	state         State
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	tracker       *networkTracker
}

// NewSession creates an uninitialized session
func NewSession(cfg Config, logger arbor.ILogger) *Session {
	return &Session{
		cfg:    cfg.withDefaults(),
		logger: logger,
		state:  StateUninitialized,
	}
}

// NewFactory returns a factory producing a fresh session per job
func NewFactory(cfg Config, logger arbor.ILogger) interfaces.SessionFactory {
	return func() interfaces.AutomationSession {
		return NewSession(cfg, logger)
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-zygote", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(s.cfg.UserAgent),
		chromedp.WindowSize(s.cfg.WindowWidth, s.cfg.WindowHeight),
	)
	if s.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
	}
	return opts
}

// Launch starts the browser and checks it responds. Calling it again after a
// successful launch is a no-op.
func (s *Session) Launch(ctx context.Context) error {
	switch s.State() {
	case StateClosed:
		return models.NewLaunchError(errClosed)
	case StateLaunched, StateAuthenticated:
		return nil
	}

	startTime := time.Now()

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	tracker := newNetworkTracker()
	chromedp.ListenTarget(browserCtx, tracker.handle)

	cleanup := func() {
		browserCancel()
		allocCancel()
	}

	// The first Run allocates the browser; it must not run under a timeout context
	if err := chromedp.Run(browserCtx); err != nil {
		cleanup()
		return models.NewLaunchError(err)
	}

	probeCtx, probeCancel := context.WithTimeout(browserCtx, s.cfg.ActionTimeout)
	stop := context.AfterFunc(ctx, probeCancel)
	err := chromedp.Run(probeCtx, network.Enable(), chromedp.Navigate("about:blank"))
	stop()
	probeCancel()
	if err != nil {
		cleanup()
		return models.NewLaunchError(fmt.Errorf("browser failed startup test: %w", err))
	}

	s.mu.Lock()
	if s.state == StateClosed {
		// Closed while launching
		s.mu.Unlock()
		cleanup()
		return models.NewLaunchError(errClosed)
	}
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.allocCancel = allocCancel
	s.tracker = tracker
	s.state = StateLaunched
	s.mu.Unlock()

	s.logger.Info().
		Bool("headless", s.cfg.Headless).
		Int("width", s.cfg.WindowWidth).
		Int("height", s.cfg.WindowHeight).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser launched")

	return nil
}

// Authenticate logs in through the login form and requires a logged-in indicator afterwards
func (s *Session) Authenticate(ctx context.Context, creds interfaces.Credentials) error {
	switch s.State() {
	case StateUninitialized:
		return models.NewAuthenticationError("session not launched", errNotLaunched)
	case StateClosed:
		return models.NewAuthenticationError("session closed", errClosed)
	}
	if creds.Username == "" || creds.Password == "" {
		return models.NewAuthenticationError("credentials not configured", nil)
	}
	if s.cfg.LoginURL == "" {
		return models.NewAuthenticationError("login URL not configured", nil)
	}

	s.logger.Info().Str("login_url", s.cfg.LoginURL).Msg("Authenticating with automation target")

	s.tracker.reset()
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Navigate(s.cfg.LoginURL)); err != nil {
		return models.NewAuthenticationError("login page unreachable", err)
	}
	if err := s.waitQuiescent(ctx); err != nil {
		return models.NewAuthenticationError("login page did not settle", err)
	}

	userSel, err := s.waitForAny(ctx, UsernameLocators, s.cfg.LoginWaitTimeout)
	if err != nil {
		return models.NewAuthenticationError("username field not found", err)
	}
	passSel, _, ok := s.resolve(ctx, PasswordLocators)
	if !ok {
		return models.NewAuthenticationError("password field not found", nil)
	}

	if err := s.fill(ctx, userSel, nil, creds.Username); err != nil {
		return models.NewAuthenticationError("failed to fill username", err)
	}
	if err := s.fill(ctx, passSel, nil, creds.Password); err != nil {
		return models.NewAuthenticationError("failed to fill password", err)
	}

	if submitSel, _, ok := s.resolve(ctx, LoginSubmitLocators); ok {
		err = s.run(ctx, s.cfg.ActionTimeout, chromedp.Click(submitSel, chromedp.ByQuery))
	} else {
		s.logger.Debug().Msg("No login submit control found, pressing Enter")
		err = s.run(ctx, s.cfg.ActionTimeout, chromedp.SendKeys(passSel, kb.Enter, chromedp.ByQuery))
	}
	if err != nil {
		return models.NewAuthenticationError("failed to submit login form", err)
	}

	if err := s.settle(ctx); err != nil {
		return models.NewAuthenticationError("login did not complete", err)
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return models.NewAuthenticationError("failed to read page after login", err)
	}
	marker, ok := snap.FirstMatch(LoggedInMarkers)
	if !ok {
		s.screenshot(ctx, "login-failed")
		return models.NewAuthenticationError("no logged-in indicator found", nil)
	}

	s.mu.Lock()
	if s.state == StateLaunched {
		s.state = StateAuthenticated
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("indicator", marker).
		Msg("Authenticated with automation target")
	return nil
}

// NavigateTo opens url, authenticating first with the configured credentials if needed
func (s *Session) NavigateTo(ctx context.Context, url string) error {
	switch s.State() {
	case StateUninitialized:
		return models.NewNavigationError(url, errNotLaunched)
	case StateClosed:
		return models.NewNavigationError(url, errClosed)
	case StateLaunched:
		if err := s.Authenticate(ctx, s.cfg.Credentials); err != nil {
			return err
		}
	}

	s.tracker.reset()
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Navigate(url)); err != nil {
		return models.NewNavigationError(url, err)
	}
	if err := s.waitQuiescent(ctx); err != nil {
		return models.NewNavigationError(url, err)
	}

	s.logger.Debug().Str("url", url).Msg("Navigated")
	return nil
}

// SubmitRow fills every row field that has a locator, submits, and checks for a
// success indicator. A missing indicator is a soft failure (Success false, nil error).
func (s *Session) SubmitRow(ctx context.Context, row models.MappedRow, rule *models.MappingRule) (*interfaces.SubmitResult, error) {
	if st := s.State(); st != StateAuthenticated && st != StateLaunched {
		return nil, models.NewAutomationError("session not ready: "+st.String(), nil)
	}

	result := &interfaces.SubmitResult{}
	lastFilled := ""

	for _, field := range fieldOrder(rule) {
		value, present := row.Get(field)
		if !present {
			continue
		}

		sel, node, ok := s.resolve(ctx, rule.Locators[field])
		if !ok {
			s.logger.Warn().
				Int("row_number", row.RowNumber).
				Str("field", field).
				Msg("No locator matched field, skipping")
			result.FieldsSkipped = append(result.FieldsSkipped, field)
			continue
		}

		if err := s.fill(ctx, sel, node, value); err != nil {
			if ctx.Err() != nil {
				return nil, models.NewAutomationError("row interrupted", ctx.Err())
			}
			s.logger.Warn().
				Err(err).
				Int("row_number", row.RowNumber).
				Str("field", field).
				Str("locator", sel).
				Msg("Failed to fill field, skipping")
			result.FieldsSkipped = append(result.FieldsSkipped, field)
			continue
		}

		result.FieldsFilled = append(result.FieldsFilled, field)
		lastFilled = sel
	}

	submitLocators := rule.SubmitLocators
	if len(submitLocators) == 0 {
		submitLocators = mapping.DefaultSubmitLocators
	}

	var err error
	if submitSel, _, ok := s.resolve(ctx, submitLocators); ok {
		err = s.run(ctx, s.cfg.ActionTimeout, chromedp.Click(submitSel, chromedp.ByQuery))
	} else if lastFilled != "" {
		err = s.run(ctx, s.cfg.ActionTimeout, chromedp.SendKeys(lastFilled, kb.Enter, chromedp.ByQuery))
	} else {
		return nil, models.NewAutomationError("submit control not found", nil)
	}
	if err != nil {
		return nil, models.NewAutomationError("failed to submit form", err)
	}

	if err := s.settle(ctx); err != nil {
		return nil, models.NewAutomationError("form submission did not complete", err)
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, models.NewAutomationError("failed to read page after submit", err)
	}

	markers := rule.SuccessMarkers
	if len(markers) == 0 {
		markers = mapping.DefaultSuccessMarkers
	}
	if marker, ok := snap.FirstMatch(markers); ok {
		s.logger.Debug().
			Int("row_number", row.RowNumber).
			Str("indicator", marker).
			Strs("fields", result.FieldsFilled).
			Msg("Row submitted")
		result.Success = true
		return result, nil
	}

	values := make(map[string]interface{}, len(row.Values))
	for k, v := range row.Values {
		values[k] = v
	}
	s.logger.Debug().
		Int("row_number", row.RowNumber).
		Str("values", fmt.Sprintf("%v", common.SanitizeForLogging(values))).
		Msg("No success indicator after submit")

	result.Reason = ReasonNoSuccessIndicator
	result.ScreenshotPath = s.screenshot(ctx, fmt.Sprintf("row-%d", row.RowNumber))
	return result, nil
}

// Close releases the browser. It is idempotent and never fails.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	wasLaunched := s.state != StateUninitialized
	s.state = StateClosed
	browserCtx, browserCancel, allocCancel := s.browserCtx, s.browserCancel, s.allocCancel
	s.browserCtx, s.browserCancel, s.allocCancel = nil, nil, nil
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn().Str("panic", fmt.Sprintf("%v", r)).Msg("Recovered during browser teardown")
		}
	}()

	if browserCtx != nil {
		if err := chromedp.Cancel(browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Msg("Error closing browser")
		}
	}
	if browserCancel != nil {
		browserCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}

	if wasLaunched {
		s.logger.Info().Msg("Browser closed")
	}
}

// browser returns the browser context when the session is usable
func (s *Session) browser() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUninitialized:
		return nil, errNotLaunched
	case StateClosed:
		return nil, errClosed
	}
	return s.browserCtx, nil
}

// run executes actions bounded by timeout and by the caller's ctx
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	browserCtx, err := s.browser()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// resolve returns the first locator that matches a node on the current page
func (s *Session) resolve(ctx context.Context, locators []string) (string, *cdp.Node, bool) {
	var found *cdp.Node
	sel, ok := common.FirstSatisfying(locators, func(candidate string) bool {
		var nodes []*cdp.Node
		err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Nodes(candidate, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)))
		if err != nil || len(nodes) == 0 {
			return false
		}
		found = nodes[0]
		return true
	})
	return sel, found, ok
}

// waitForAny polls until one of locators matches or timeout elapses
func (s *Session) waitForAny(ctx context.Context, locators []string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if sel, _, ok := s.resolve(ctx, locators); ok {
			return sel, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("none of %v appeared within %s", locators, timeout)
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return "", err
		}
	}
}

// fill clears and types into inputs; selects get their value set directly
func (s *Session) fill(ctx context.Context, sel string, node *cdp.Node, value string) error {
	if node != nil && node.NodeName == "SELECT" {
		return s.run(ctx, s.cfg.ActionTimeout, chromedp.SetValue(sel, value, chromedp.ByQuery))
	}
	return s.run(ctx, s.cfg.ActionTimeout,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
}

// settle gives a submission time to start navigating, then waits for quiescence
func (s *Session) settle(ctx context.Context) error {
	if err := sleepCtx(ctx, s.cfg.SettleDelay); err != nil {
		return err
	}
	return s.waitQuiescent(ctx)
}

// waitQuiescent waits for readyState complete and an idle network for the settle
// delay. Hitting the action timeout is logged and tolerated; only ctx ends it early.
func (s *Session) waitQuiescent(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.ActionTimeout)
	for {
		var readyState string
		err := s.run(ctx, 2*time.Second, chromedp.Evaluate(`document.readyState`, &readyState))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errClosed) {
			return err
		}
		// Evaluate fails while a navigation swaps the document; keep polling
		if err == nil && readyState == "complete" && s.tracker.idleFor(s.cfg.SettleDelay) {
			return nil
		}
		if time.Now().After(deadline) {
			s.logger.Warn().
				Str("ready_state", readyState).
				Dur("timeout", s.cfg.ActionTimeout).
				Msg("Page did not become idle before timeout, continuing")
			return nil
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func (s *Session) snapshot(ctx context.Context) (*Snapshot, error) {
	var html string
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return NewSnapshot(html)
}

// screenshot saves a full-page PNG when a screenshot directory is configured.
// Failures are logged; the returned path is empty when nothing was written.
func (s *Session) screenshot(ctx context.Context, name string) string {
	if s.cfg.ScreenshotDir == "" {
		return ""
	}
	var buf []byte
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to take screenshot")
		return ""
	}
	if err := os.MkdirAll(s.cfg.ScreenshotDir, 0755); err != nil {
		s.logger.Warn().Err(err).Str("dir", s.cfg.ScreenshotDir).Msg("Failed to create screenshot directory")
		return ""
	}
	path := filepath.Join(s.cfg.ScreenshotDir, fmt.Sprintf("%s-%s.png", name, time.Now().Format("20060102-150405.000")))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to write screenshot")
		return ""
	}
	s.logger.Info().Str("path", path).Msg("Screenshot saved")
	return path
}

// fieldOrder lists required, then optional, then any other located fields
func fieldOrder(rule *models.MappingRule) []string {
	seen := make(map[string]bool)
	var order []string
	add := func(fields []string) {
		for _, f := range fields {
			if !seen[f] {
				seen[f] = true
				order = append(order, f)
			}
		}
	}
	add(rule.RequiredFields)
	add(rule.OptionalFields)
	add(rule.LocatedFields())

	located := order[:0:0]
	for _, f := range order {
		if len(rule.Locators[f]) > 0 {
			located = append(located, f)
		}
	}
	return located
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
