package browser

import (
	"os/exec"

	"github.com/jmylchreest/randouyin/internal/logger"
)

// Chrome/Chromium binary names and locations, PATH names first.
var chromeBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/headless-shell/headless-shell",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// FindChromePath returns the first Chrome binary found, or "" so that
// chromedp falls back to its own lookup.
func FindChromePath() string {
	for _, name := range chromeBinaryNames {
		if path, err := lookPath(name); err == nil {
			logger.Debug("found Chrome binary", "name", name, "path", path)
			return path
		}
	}
	logger.Warn("no Chrome binary found, relying on chromedp default lookup")
	return ""
}
