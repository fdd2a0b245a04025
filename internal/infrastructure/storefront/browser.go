package storefront

import (
	"context"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/internal/logging"
)

// browserManager owns one Chrome instance, launched locally or reached through a remote
// DevTools URL. The browser is started on first use and shared by every search.
type browserManager struct {
	remoteURL string
	headless  bool

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	closed   bool
}

func newBrowserManager(remoteURL string, headless bool) *browserManager {
	return &browserManager{remoteURL: remoteURL, headless: headless}
}

// get returns the running browser, starting it if needed
func (m *browserManager) get(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, goerr.New("browser is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	logger := logging.From(ctx)
	wsURL := m.remoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(m.headless).
			Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to launch chrome")
		}
		wsURL = u
		m.launcher = l
		logger.Info("[BROWSER] launched local chrome", "headless", m.headless)
	} else {
		logger.Info("[BROWSER] connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanupLauncher()
		return nil, goerr.Wrap(err, "failed to connect to chrome", goerr.V("url", wsURL))
	}

	m.browser = b
	return b, nil
}

// close shuts the browser down. Later calls to get fail.
func (m *browserManager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.cleanupLauncher()
	if err != nil {
		return goerr.Wrap(err, "failed to close chrome")
	}
	return nil
}

func (m *browserManager) cleanupLauncher() {
	if m.launcher != nil {
		m.launcher.Cleanup()
		m.launcher = nil
	}
}
