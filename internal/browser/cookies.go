package browser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// Cookie is one persisted cookie, laid out like a CDP cookie-set entry.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// CookieJar persists cookies as a JSON array at Path. It assumes a single
// writer per path.
type CookieJar struct {
	Path string
}

// Load reads the jar. A missing file is an empty jar.
func (j *CookieJar) Load() ([]Cookie, error) {
	data, err := os.ReadFile(j.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookies %s: %w", j.Path, err)
	}
	return cookies, nil
}

// Save writes cookies unless they equal previous. It reports whether the
// file was written.
func (j *CookieJar) Save(cookies, previous []Cookie) (bool, error) {
	data, err := json.MarshalIndent(nonNil(cookies), "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to encode cookies: %w", err)
	}
	old, err := json.MarshalIndent(nonNil(previous), "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to encode cookies: %w", err)
	}
	if bytes.Equal(data, old) {
		if _, statErr := os.Stat(j.Path); statErr == nil {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(j.Path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create cookie directory: %w", err)
	}
	tmp := j.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return false, fmt.Errorf("failed to write cookies: %w", err)
	}
	if err := os.Rename(tmp, j.Path); err != nil {
		return false, fmt.Errorf("failed to write cookies: %w", err)
	}
	return true, nil
}

// Delete removes the jar. Deleting a missing jar is not an error.
func (j *CookieJar) Delete() error {
	if err := os.Remove(j.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cookies: %w", err)
	}
	return nil
}

func nonNil(c []Cookie) []Cookie {
	if c == nil {
		return []Cookie{}
	}
	return c
}

// toParams converts jar cookies for storage.SetCookies.
func toParams(cookies []Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * 1e9)
			exp := cdp.TimeSinceEpoch(time.Unix(sec, nsec))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}

// fromNetwork converts cookies read back from the browser.
func fromNetwork(cookies []*network.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return out
}
