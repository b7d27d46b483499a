// Package browser owns a single real browser process with remote debugging
// enabled on a caller-assigned port and profile directory, and drives login
// and logout against the ShopKeyPro portal.
package browser

import (
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"mitchell-agent/errors"
	"mitchell-agent/logger"
)

// Credentials are the portal username/password a Driver logs in with.
type Credentials struct {
	Username string
	Password string
}

// Config describes the one browser process a Driver owns.
type Config struct {
	PortalURL      string
	ProfileDir     string
	DebugPort      int
	Headless       bool
	NavTimeoutMs   float64
	Credentials    Credentials
}

// autoLoginMarker appears in the portal URL when single-sign-on has already
// authenticated the session before the agent attaches.
const autoLoginMarker = "autologin"

// loggedInSentinel, loginFormSentinel and sessionLimitSentinel are CSS
// selectors the portal is known to render only on their respective page
// states; logoutAffordance locates the logout link.
const (
	loggedInSentinel   = "#main-nav, .shopkeypro-app-shell"
	loginFormSentinel  = "#username, input[name='username']"
	sessionLimitSentinel = ".session-limit-notice, #license-manager"
	logoutAffordance   = "#logout, a[href*='logout']"
)

var closeSelectors = []string{
	"button.cancel", ".modal button[aria-label='Close']", ".close", "[aria-label='close']",
}

// Driver wraps one playwright.Browser/Context/Page triple. It is not safe
// for concurrent use; each Worker owns exactly one Driver.
type Driver struct {
	cfg Config

	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	spawned bool // true if this Driver launched the process rather than attaching
}

// New returns a Driver bound to cfg. It does not launch anything; call
// Connect to do that.
func New(cfg Config) *Driver {
	if cfg.NavTimeoutMs == 0 {
		cfg.NavTimeoutMs = 30000
	}
	return &Driver{cfg: cfg}
}

// Page exposes the current page so the Navigator and Request Handler can
// drive it directly.
func (d *Driver) Page() playwright.Page { return d.page }

// SetDebugPort overrides the port Connect attaches to or launches on,
// for a SpawnRuntime (e.g. the container runtime) that only learns the
// real port after the underlying process already exists. Must be
// called before Connect.
func (d *Driver) SetDebugPort(port int) { d.cfg.DebugPort = port }

// attach launches (or attaches to) the browser process on the configured
// port and selects one context and page, without navigating anywhere or
// inspecting page state. Shared by Connect (which goes on to navigate and
// log in) and EnsureCleanState (which never logs in at all).
func (d *Driver) attach() error {
	pw, err := playwright.Run()
	if err != nil {
		return errors.E(errors.ConnectionFailed, fmt.Errorf("start playwright driver: %w", err))
	}
	d.pw = pw

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.cfg.Headless),
		Args: []string{
			fmt.Sprintf("--remote-debugging-port=%d", d.cfg.DebugPort),
			fmt.Sprintf("--user-data-dir=%s", d.cfg.ProfileDir),
			"--disable-blink-features=AutomationControlled",
			"--no-first-run",
			"--no-default-browser-check",
			"--disable-background-networking",
			"--window-size=1920,1080",
		},
	}

	attached := portBound(fmt.Sprintf("127.0.0.1:%d", d.cfg.DebugPort))
	browser, err := connectOrLaunch(pw, launchOpts, d.cfg.DebugPort)
	if err != nil {
		pw.Stop()
		return errors.E(errors.ConnectionFailed, err)
	}
	d.browser = browser
	d.spawned = !attached

	contexts := browser.Contexts()
	var bctx playwright.BrowserContext
	if len(contexts) > 0 {
		bctx = contexts[0]
	} else {
		bctx, err = browser.NewContext(playwright.BrowserNewContextOptions{
			Viewport: &playwright.Size{Width: 1920, Height: 1080},
		})
		if err != nil {
			return errors.E(errors.ConnectionFailed, fmt.Errorf("create context: %w", err))
		}
	}
	d.context = bctx

	pages := bctx.Pages()
	var page playwright.Page
	if len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = bctx.NewPage()
		if err != nil {
			return errors.E(errors.ConnectionFailed, fmt.Errorf("create page: %w", err))
		}
	}
	d.page = page
	page.SetDefaultNavigationTimeout(d.cfg.NavTimeoutMs)
	page.SetDefaultTimeout(d.cfg.NavTimeoutMs)
	return nil
}

// Connect attaches to the browser process, navigates to the portal, and
// resolves the initial page state, logging in if necessary.
func (d *Driver) Connect() error {
	if err := d.attach(); err != nil {
		return err
	}

	if _, err := d.page.Goto(d.cfg.PortalURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return errors.E(errors.ConnectionFailed, fmt.Errorf("navigate to portal: %w", err))
	}

	d.dismissConsentBanner()

	switch d.pageState() {
	case stateLoggedIn:
		return nil
	case stateSessionLimit:
		return errors.M(errors.SessionLimit, "portal reports active session limit reached")
	case stateLoginForm:
		return d.login()
	default:
		return d.login()
	}
}

type pageState int

const (
	stateUnknown pageState = iota
	stateLoggedIn
	stateLoginForm
	stateSessionLimit
)

func (d *Driver) pageState() pageState {
	if ok, _ := d.page.Locator(sessionLimitSentinel).Count(); ok > 0 {
		return stateSessionLimit
	}
	if ok, _ := d.page.Locator(loggedInSentinel).Count(); ok > 0 {
		return stateLoggedIn
	}
	if ok, _ := d.page.Locator(loginFormSentinel).Count(); ok > 0 {
		return stateLoginForm
	}
	return stateUnknown
}

func (d *Driver) dismissConsentBanner() {
	for _, sel := range []string{"#onetrust-accept-btn-handler", "button:has-text('Accept')"} {
		loc := d.page.Locator(sel)
		if n, _ := loc.Count(); n > 0 {
			_ = loc.First().Click()
			return
		}
	}
}

// login performs interactive credential entry, or waits out an auto-login
// redirect if the portal has already authenticated the session via SSO.
func (d *Driver) login() error {
	if containsMarker(d.page.URL(), autoLoginMarker) {
		if err := d.waitForRedirectAwayFromLogin(15 * time.Second); err != nil {
			return errors.E(errors.LoginFailed, err)
		}
		return d.handleActiveSessionsPrompt()
	}

	userField, err := d.findLoginField("#username, input[name='username']", "username")
	if err != nil {
		return errors.E(errors.LoginFailed, err)
	}
	passField, err := d.findLoginField("#password, input[name='password']", "password")
	if err != nil {
		return errors.E(errors.LoginFailed, err)
	}

	if err := d.typeHumanlike(userField, d.cfg.Credentials.Username); err != nil {
		return errors.E(errors.LoginFailed, err)
	}
	time.Sleep(randDuration(300, 1000))
	if err := d.typeHumanlike(passField, d.cfg.Credentials.Password); err != nil {
		return errors.E(errors.LoginFailed, err)
	}

	submit := d.page.Locator("button[type='submit'], #login-submit")
	if n, _ := submit.Count(); n > 0 {
		if err := submit.First().Click(); err != nil {
			return errors.E(errors.LoginFailed, fmt.Errorf("click submit: %w", err))
		}
	} else if err := passField.Press("Enter"); err != nil {
		return errors.E(errors.LoginFailed, fmt.Errorf("submit via Enter: %w", err))
	}

	if err := d.waitForRedirectAwayFromLogin(15 * time.Second); err != nil {
		return errors.E(errors.LoginFailed, err)
	}

	return d.handleActiveSessionsPrompt()
}

func (d *Driver) findLoginField(primarySelector, kind string) (playwright.Locator, error) {
	loc := d.page.Locator(primarySelector)
	if n, _ := loc.Count(); n > 0 {
		return loc.First(), nil
	}
	fallback := d.page.Locator(fmt.Sprintf("input[placeholder*='%s' i], input[aria-label*='%s' i]", kind, kind))
	if n, _ := fallback.Count(); n > 0 {
		return fallback.First(), nil
	}
	return nil, fmt.Errorf("%s field not found after fallback search", kind)
}

func (d *Driver) typeHumanlike(loc playwright.Locator, text string) error {
	if err := loc.Click(); err != nil {
		return err
	}
	for _, r := range text {
		if err := loc.Type(string(r), playwright.LocatorTypeOptions{
			Delay: playwright.Float(float64(30 + rand.Intn(51))),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) waitForRedirectAwayFromLogin(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.pageState() != stateLoginForm {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for redirect away from login page")
}

// handleActiveSessionsPrompt selects every listed session and commits, if
// the portal presents an "active sessions" chooser after credentials are
// accepted.
func (d *Driver) handleActiveSessionsPrompt() error {
	checkboxes := d.page.Locator(".active-sessions input[type='checkbox']")
	n, _ := checkboxes.Count()
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		_ = checkboxes.Nth(i).Check()
	}
	commit := d.page.Locator("button:has-text('Commit'), #commit-sessions")
	if cn, _ := commit.Count(); cn > 0 {
		return commit.First().Click()
	}
	return nil
}

// Logout closes any open modal, clicks the logout affordance, and then
// waits up to 10s for the login form (or an unrecognised page) with no
// logout affordance left. Only a failed click is returned as an error;
// when the wait runs out without that state, Logout still returns nil.
func (d *Driver) Logout() error {
	d.closeModals()

	logout := d.page.Locator(logoutAffordance)
	if n, _ := logout.Count(); n > 0 {
		if err := logout.First().Click(); err != nil {
			return errors.E(errors.Internal, fmt.Errorf("click logout: %w", err))
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st := d.pageState()
		if st == stateLoginForm || st == stateUnknown {
			if n, _ := logout.Count(); n == 0 {
				return nil
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

var genericCloseClass = regexp.MustCompile(`(?i)close`)

func (d *Driver) closeModals() {
	for _, sel := range closeSelectors {
		loc := d.page.Locator(sel)
		if n, _ := loc.Count(); n > 0 {
			_ = loc.First().Click()
		}
	}
	elements, err := d.page.Locator("[class]").All()
	if err != nil {
		return
	}
	for _, el := range elements {
		class, _ := el.GetAttribute("class")
		if genericCloseClass.MatchString(class) {
			_ = el.Click()
		}
	}
}

// EnsureCleanState attaches to any existing browser process on this
// driver's port, without logging in, and logs out if a session is
// already active left over from a previous run. Run once at agent
// startup before any real request is processed. It never invokes the
// login flow: Connect (called later, by the Session Manager's
// EnsureLoggedIn when a request is processed) is responsible for that. A session-limit notice found at this point is only a stale
// banner on whatever page is currently loaded, not a login attempt
// being refused, so it is logged and otherwise ignored rather than
// treated as an error or a reason to log out.
func (d *Driver) EnsureCleanState() error {
	if err := d.attach(); err != nil {
		return err
	}
	switch d.pageState() {
	case stateSessionLimit:
		logger.Warn("session limit notice present during clean-state check, proceeding without logging out")
		return nil
	case stateLoggedIn:
		return d.Logout()
	default:
		return nil
	}
}

// Disconnect closes the context, stops the driver, and terminates the
// child process if this Driver spawned it.
func (d *Driver) Disconnect() error {
	if d.context != nil {
		_ = d.context.Close()
	}
	if d.browser != nil && d.spawned {
		_ = d.browser.Close()
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			logger.Error("playwright driver stop failed", zap.Error(err))
		}
	}
	return nil
}

// Screenshot captures the current page as PNG bytes, for a reasoner turn
// or for Result.Images.
func (d *Driver) Screenshot() ([]byte, error) {
	b, err := d.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, errors.E(errors.Internal, fmt.Errorf("screenshot: %w", err))
	}
	return b, nil
}

// ClickByHint clicks the element whose visible text or aria-label best
// matches a free-text hint, for the autonomous query dispatch loop which
// has no fixed selector to work from.
func (d *Driver) ClickByHint(hint string) error {
	hint = regexp.QuoteMeta(hint)
	loc := d.page.Locator(fmt.Sprintf(":text-matches('%s', 'i'), [aria-label*='%s' i]", hint, hint))
	n, _ := loc.Count()
	if n == 0 {
		return fmt.Errorf("no element matching hint %q", hint)
	}
	return loc.First().Click()
}

func containsMarker(url, marker string) bool {
	return regexp.MustCompile(regexp.QuoteMeta(marker)).MatchString(url)
}

func randDuration(minMs, maxMs int) time.Duration {
	return time.Duration(minMs+rand.Intn(maxMs-minMs+1)) * time.Millisecond
}
