package browser

import (
	"fmt"
	"net"
	"time"

	"github.com/playwright-community/playwright-go"
)

// connectOrLaunch attaches to an already-running browser on port if one is
// listening, otherwise launches a fresh chromium process with opts. Either
// way it then waits up to 30s for the CDP control endpoint to answer.
func connectOrLaunch(pw *playwright.Playwright, opts playwright.BrowserTypeLaunchOptions, port int) (playwright.Browser, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	if portBound(addr) {
		cdpURL := fmt.Sprintf("http://%s", addr)
		if err := waitForCDP(cdpURL, 30*time.Second); err != nil {
			return nil, fmt.Errorf("existing browser on %s never became reachable: %w", addr, err)
		}
		return pw.Chromium.ConnectOverCDP(cdpURL)
	}

	browser, err := pw.Chromium.Launch(opts)
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	if err := waitForCDP(fmt.Sprintf("http://%s", addr), 30*time.Second); err != nil {
		browser.Close()
		return nil, err
	}
	return browser, nil
}

func portBound(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func waitForCDP(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if portBound(stripScheme(url)) {
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("control endpoint %s not reachable within %s", url, timeout)
}

func stripScheme(url string) string {
	const prefix = "http://"
	if len(url) > len(prefix) && url[:len(prefix)] == prefix {
		return url[len(prefix):]
	}
	return url
}
