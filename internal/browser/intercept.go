package browser

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/gobwas/glob"

	"github.com/jmylchreest/randouyin/internal/logger"
)

// Action is what an interception rule does with a matching request.
type Action int

const (
	Continue Action = iota
	Fulfill
	Abort
)

func (a Action) String() string {
	switch a {
	case Fulfill:
		return "fulfill"
	case Abort:
		return "abort"
	default:
		return "continue"
	}
}

// StubScript replaces the site's fingerprinting and telemetry SDKs.
const StubScript = "/* stubbed security SDK */\nwindow.__sdk_stub = true;"

// Rule matches a request by URL glob, URL substring or resource type. Any
// one criterion matching is enough.
type Rule struct {
	Name          string
	Patterns      []string
	Substrings    []string
	ResourceTypes []string
	Action        Action
	Body          string // Fulfill only

	globs []glob.Glob
}

// Matches reports whether the rule applies to url with the given resource
// type. Resource types compare case-insensitively.
func (r *Rule) Matches(url, resourceType string) bool {
	for _, s := range r.Substrings {
		if strings.Contains(url, s) {
			return true
		}
	}
	for _, g := range r.globs {
		if g.Match(url) {
			return true
		}
	}
	for _, t := range r.ResourceTypes {
		if strings.EqualFold(t, resourceType) {
			return true
		}
	}
	return false
}

// Rules is an ordered interception policy. The first matching rule wins;
// requests matching nothing continue untouched.
type Rules struct {
	rules []Rule
}

// Decision is the outcome of evaluating Rules against a request.
type Decision struct {
	Rule   string
	Action Action
	Body   string
}

// NewRules compiles rules in order. Patterns use "/" as separator, so "*"
// stays within one path segment and "**" spans segments.
func NewRules(rules ...Rule) (*Rules, error) {
	out := &Rules{rules: make([]Rule, 0, len(rules))}
	for _, r := range rules {
		r.globs = make([]glob.Glob, 0, len(r.Patterns))
		for _, p := range r.Patterns {
			g, err := glob.Compile(p, '/')
			if err != nil {
				return nil, err
			}
			r.globs = append(r.globs, g)
		}
		out.rules = append(out.rules, r)
	}
	return out, nil
}

// Decide returns the action for a request.
func (rs *Rules) Decide(url, resourceType string) Decision {
	for i := range rs.rules {
		r := &rs.rules[i]
		if r.Matches(url, resourceType) {
			return Decision{Rule: r.Name, Action: r.Action, Body: r.Body}
		}
	}
	return Decision{Action: Continue}
}

// DefaultRules returns the site's interception policy.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "security-sdk",
			Substrings: []string{
				"secsdk-lastest.umd.js",
				"webmssdk.es5.js",
				"sdk-glue.js",
				"monitor_browser/collect",
				"strategy_90.js",
				"runtime.js",
				"collect",
				"security-secsdk",
			},
			Action: Fulfill,
			Body:   StubScript,
		},
		{
			Name:     "collector",
			Patterns: []string{"**/collect/5.1/collect.zip.js*"},
			Action:   Abort,
		},
		{
			Name:     "sdk-empty",
			Patterns: []string{"**/webmssdk*", "**/sdk-glue*"},
			Action:   Fulfill,
		},
		{
			Name: "static",
			Patterns: []string{
				"**/*ad*.js",
				"**/*.css",
				"**/*.{png,jpg,jpeg}",
				"**/*.{woff2,ttf}",
			},
			Action: Abort,
		},
		{
			Name: "resource-type",
			ResourceTypes: []string{
				"image", "stylesheet", "font", "media", "texttrack",
				"eventsource", "websocket", "manifest", "other",
			},
			Action: Abort,
		},
	}
}

// listenIntercept resolves every paused request of the tab in ctx against rs.
// fetch.Enable must be run on the same tab for requests to pause.
func listenIntercept(ctx context.Context, rs *Rules) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		e, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(ctx)
			if c == nil || c.Target == nil {
				return
			}
			execCtx := cdp.WithExecutor(ctx, c.Target)
			d := rs.Decide(e.Request.URL, e.ResourceType.String())
			if err := resolve(execCtx, e.RequestID, d); err != nil && ctx.Err() == nil {
				logger.Debug("interception failed", "url", e.Request.URL, "action", d.Action.String(), "error", err)
			}
		}()
	})
}

func resolve(ctx context.Context, id fetch.RequestID, d Decision) error {
	switch d.Action {
	case Fulfill:
		return fetch.FulfillRequest(id, 200).
			WithResponseHeaders([]*fetch.HeaderEntry{{Name: "Content-Type", Value: "application/javascript"}}).
			WithBody(base64.StdEncoding.EncodeToString([]byte(d.Body))).
			Do(ctx)
	case Abort:
		return fetch.FailRequest(id, network.ErrorReasonBlockedByClient).Do(ctx)
	default:
		return fetch.ContinueRequest(id).Do(ctx)
	}
}

// interceptPatterns pauses every request at the request stage.
func interceptPatterns() []*fetch.RequestPattern {
	return []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}
}
