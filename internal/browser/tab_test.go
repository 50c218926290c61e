package browser

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTextXPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"取消", "//*[text()[contains(., '取消')]]"},
		{"it's", `//*[text()[contains(., "it's")]]`},
		{`a'b"c`, `//*[text()[contains(., concat('a', "'", 'b"c'))]]`},
	}
	for _, tt := range tests {
		if got := textXPath(tt.in); got != tt.want {
			t.Errorf("textXPath(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTimeoutError(t *testing.T) {
	err := fmt.Errorf("scroll: %w", NewTimeoutError("wait for selector", "div.card", 15*time.Second))
	if !IsTimeout(err) {
		t.Error("wrapped TimeoutError should match ErrTimeout")
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Selector != "div.card" {
		t.Errorf("errors.As() = %v", te)
	}
	if IsTimeout(errors.New("boom")) {
		t.Error("plain error should not be a timeout")
	}
	want := `wait for selector "div.card": timeout 15s exceeded`
	if te.Error() != want {
		t.Errorf("Error() = %q, want %q", te.Error(), want)
	}
}

func TestSessionError(t *testing.T) {
	err := &SessionError{Op: "start", Err: ErrClosed}
	if !errors.Is(err, ErrClosed) {
		t.Error("SessionError should unwrap")
	}
}

func TestLocatorString(t *testing.T) {
	if got := ByText("请登录后继续使用").String(); got != `text="请登录后继续使用"` {
		t.Errorf("ByText().String() = %s", got)
	}
	if got := BySelector("div#captcha_container").String(); got != "div#captcha_container" {
		t.Errorf("BySelector().String() = %s", got)
	}
}

func TestNewSession_DefaultsRules(t *testing.T) {
	s, err := NewSession(Options{CookiePath: "cookies.json"})
	if err != nil {
		t.Fatal(err)
	}
	if d := s.rules.Decide("https://example.com/a.png", "Image"); d.Action != Abort {
		t.Errorf("default rules not installed, got %s", d.Action)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on unstarted session = %v", err)
	}
	if _, err := s.NewContext(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("NewContext() after Close = %v, want ErrClosed", err)
	}
}

func TestFindChromePath(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()

	lookPath = func(name string) (string, error) {
		if name == "chromium" {
			return "/usr/bin/chromium", nil
		}
		return "", errors.New("not found")
	}
	if got := FindChromePath(); got != "/usr/bin/chromium" {
		t.Errorf("FindChromePath() = %q", got)
	}

	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if got := FindChromePath(); got != "" {
		t.Errorf("FindChromePath() = %q, want empty", got)
	}
}
