// Package devtools owns the Chrome DevTools Protocol sessions: one
// long-lived session attached to the dev-server tab, plus short-lived
// fresh-fetch sessions used by the poller. A fresh session matters because
// Chrome caches CSS.getStyleSheetText per session after the first fetch; a
// newly attached session always returns the current text.
package devtools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

var (
	// ErrConnectionRefused means no debug endpoint answered; fatal at startup.
	ErrConnectionRefused = errors.New("devtools endpoint refused connection")
	// ErrTabNotFound means no page target matched the dev-server prefix.
	ErrTabNotFound = errors.New("no matching browser tab")
)

// ProbePorts are tried in order when no explicit debug port is configured.
var ProbePorts = []int{9222, 9333, 9229, 9230}

// Header is the stylesheet metadata snapshot delivered with styleSheetAdded.
type Header struct {
	ID           string
	SourceURL    string
	SourceMapURL string
	IsInline     bool
}

// FreshSheet is one stylesheet as seen by a fresh-fetch session.
type FreshSheet struct {
	ID         string
	Text       string
	ContentKey string
}

// ViteMatch pairs a live stylesheet with the data-vite-dev-id path of the
// <style> element that owns it.
type ViteMatch struct {
	ID        string
	ViteDevID string
}

// TabInfo describes one candidate page target, for the tab-not-found report.
type TabInfo struct {
	URL   string
	Title string
}

// Session manages the primary target session and spawns ephemeral sessions
// for fresh fetches.
type Session struct {
	Host        string
	Port        int
	SettleDelay time.Duration // wait for styleSheetAdded replay on a fresh session
	Log         *slog.Logger

	mu         sync.Mutex
	addedCbs   []func(Header)
	changedCbs []func(string)

	browser    *rod.Browser
	page       *rod.Page
	targetID   proto.TargetTargetID
	stopEvents context.CancelFunc
	connected  bool
}

// NewSession creates a session manager for the given CDP endpoint. A zero
// port enables port probing.
func NewSession(host string, port int, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{Host: host, Port: port, SettleDelay: 200 * time.Millisecond, Log: log}
}

// OnStylesheetAdded registers a callback for styleSheetAdded events.
// Registration works before or after Connect.
func (s *Session) OnStylesheetAdded(cb func(Header)) {
	s.mu.Lock()
	s.addedCbs = append(s.addedCbs, cb)
	s.mu.Unlock()
}

// OnStylesheetChanged registers a callback for styleSheetChanged events.
func (s *Session) OnStylesheetChanged(cb func(string)) {
	s.mu.Lock()
	s.changedCbs = append(s.changedCbs, cb)
	s.mu.Unlock()
}

// Connect resolves the debug endpoint, attaches to the first page target
// whose URL starts with urlPrefix, and enables the DOM, CSS and Page domains
// in that order (CSS requires DOM). Event subscription is in place before
// the domains are enabled so nothing delivered during enable is lost.
func (s *Session) Connect(ctx context.Context, urlPrefix string) error {
	wsURL, err := s.resolveEndpoint()
	if err != nil {
		return err
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	s.browser = browser

	target, err := s.findTarget(urlPrefix)
	if err != nil {
		return err
	}
	s.targetID = target

	page, err := browser.PageFromTarget(target)
	if err != nil {
		return fmt.Errorf("attach to target: %w", err)
	}
	s.page = page

	eventCtx, cancel := context.WithCancel(ctx)
	s.stopEvents = cancel
	wait := page.Context(eventCtx).EachEvent(
		func(e *proto.CSSStyleSheetAdded) {
			s.dispatchAdded(Header{
				ID:           string(e.Header.StyleSheetID),
				SourceURL:    e.Header.SourceURL,
				SourceMapURL: e.Header.SourceMapURL,
				IsInline:     e.Header.IsInline,
			})
		},
		func(e *proto.CSSStyleSheetChanged) {
			s.dispatchChanged(string(e.StyleSheetID))
		},
	)
	go wait()

	if err := (proto.DOMEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable DOM: %w", err)
	}
	if err := (proto.CSSEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable CSS: %w", err)
	}
	if err := (proto.PageEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable Page: %w", err)
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.Log.Debug("devtools: connected", "target", target, "endpoint", wsURL)
	return nil
}

func (s *Session) dispatchAdded(h Header) {
	s.mu.Lock()
	cbs := append([]func(Header){}, s.addedCbs...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(h)
	}
}

func (s *Session) dispatchChanged(id string) {
	s.mu.Lock()
	cbs := append([]func(string){}, s.changedCbs...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(id)
	}
}

// resolveEndpoint turns host/port into a WebSocket debugger URL, probing the
// well-known debug ports when no port is configured.
func (s *Session) resolveEndpoint() (string, error) {
	if s.Port != 0 {
		return s.resolveOne(s.Port)
	}
	var lastErr error
	for _, p := range ProbePorts {
		ws, err := s.resolveOne(p)
		if err == nil {
			s.Log.Debug("devtools: probed port", "port", p)
			return ws, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (s *Session) resolveOne(port int) (string, error) {
	ws, err := launcher.ResolveURL(fmt.Sprintf("%s:%d", s.Host, port))
	if err != nil {
		if isRefused(err) {
			return "", fmt.Errorf("%w (%s:%d)", ErrConnectionRefused, s.Host, port)
		}
		return "", fmt.Errorf("resolve endpoint %s:%d: %w", s.Host, port, err)
	}
	return ws, nil
}

func isRefused(err error) bool {
	return err != nil && strings.Contains(err.Error(), "connection refused")
}

func (s *Session) findTarget(urlPrefix string) (proto.TargetTargetID, error) {
	res, err := proto.TargetGetTargets{}.Call(s.browser)
	if err != nil {
		return "", fmt.Errorf("list targets: %w", err)
	}
	for _, t := range res.TargetInfos {
		if t.Type == "page" && strings.HasPrefix(t.URL, urlPrefix) {
			return t.TargetID, nil
		}
	}
	return "", fmt.Errorf("%w: no page target starts with %s", ErrTabNotFound, urlPrefix)
}

// Tabs lists the open page targets, used to enumerate candidates when the
// dev-server tab is missing.
func (s *Session) Tabs() []TabInfo {
	if s.browser == nil {
		return nil
	}
	res, err := proto.TargetGetTargets{}.Call(s.browser)
	if err != nil {
		return nil
	}
	var tabs []TabInfo
	for _, t := range res.TargetInfos {
		if t.Type == "page" {
			tabs = append(tabs, TabInfo{URL: t.URL, Title: t.Title})
		}
	}
	return tabs
}

// StylesheetText fetches a stylesheet's text over the primary session. Note
// the browser serves this from a per-session cache after the first fetch;
// use FreshStylesheets for current text.
func (s *Session) StylesheetText(ctx context.Context, id string) (string, error) {
	res, err := proto.CSSGetStyleSheetText{StyleSheetID: proto.CSSStyleSheetID(id)}.Call(s.page.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("get stylesheet text %s: %w", id, err)
	}
	return res.Text, nil
}

// ReloadPage reloads the attached tab.
func (s *Session) ReloadPage(ctx context.Context) error {
	if err := (proto.PageReload{}).Call(s.page.Context(ctx)); err != nil {
		return fmt.Errorf("reload page: %w", err)
	}
	return nil
}

// FreshStylesheets attaches a transient session to the same target, enables
// DOM and CSS, waits briefly for the styleSheetAdded replay, pulls the text
// of every announced sheet and detaches. Network failures here are
// recoverable and yield an empty result.
func (s *Session) FreshStylesheets(ctx context.Context) ([]FreshSheet, error) {
	p, err := s.browser.PageFromTarget(s.targetID)
	if err != nil {
		s.Log.Debug("devtools: fresh session attach failed", "error", err)
		return nil, nil
	}
	defer func() {
		_ = proto.TargetDetachFromTarget{SessionID: p.SessionID}.Call(s.browser)
	}()

	var mu sync.Mutex
	var headers []*proto.CSSCSSStyleSheetHeader

	settleCtx, cancel := context.WithTimeout(ctx, s.SettleDelay)
	defer cancel()
	ep := p.Context(settleCtx)

	wait := ep.EachEvent(func(e *proto.CSSStyleSheetAdded) {
		mu.Lock()
		headers = append(headers, e.Header)
		mu.Unlock()
	})

	if err := (proto.DOMEnable{}).Call(ep); err != nil {
		s.Log.Debug("devtools: fresh session DOM enable failed", "error", err)
		return nil, nil
	}
	if err := (proto.CSSEnable{}).Call(ep); err != nil {
		s.Log.Debug("devtools: fresh session CSS enable failed", "error", err)
		return nil, nil
	}
	wait()

	mu.Lock()
	snapshot := append([]*proto.CSSCSSStyleSheetHeader{}, headers...)
	mu.Unlock()

	sheets := make([]FreshSheet, 0, len(snapshot))
	for _, h := range snapshot {
		res, err := proto.CSSGetStyleSheetText{StyleSheetID: h.StyleSheetID}.Call(p.Context(ctx))
		if err != nil {
			continue
		}
		sheets = append(sheets, FreshSheet{
			ID:         string(h.StyleSheetID),
			Text:       res.Text,
			ContentKey: ContentKey(res.Text),
		})
	}
	return sheets, nil
}

// MatchViteStylesheets pairs style[data-vite-dev-id] elements in the DOM
// with known stylesheets by comparing the leading 100 trimmed characters of
// their text.
func (s *Session) MatchViteStylesheets(ctx context.Context, sheets []FreshSheet) ([]ViteMatch, error) {
	els, err := s.page.Context(ctx).Elements("style[data-vite-dev-id]")
	if err != nil {
		s.Log.Debug("devtools: vite style query failed", "error", err)
		return nil, nil
	}

	var matches []ViteMatch
	for _, el := range els {
		attr, err := el.Attribute("data-vite-dev-id")
		if err != nil || attr == nil || *attr == "" {
			continue
		}
		text, err := el.Property("textContent")
		if err != nil {
			continue
		}
		key := ContentKey(text.Str())
		for _, sh := range sheets {
			if sh.ContentKey != "" && sh.ContentKey == key {
				matches = append(matches, ViteMatch{ID: sh.ID, ViteDevID: *attr})
				break
			}
		}
	}
	return matches, nil
}

// Close detaches the primary session and stops the event pump. The browser
// itself is left running; it belongs to the user.
func (s *Session) Close() error {
	if s.stopEvents != nil {
		s.stopEvents()
	}
	if s.browser != nil && s.page != nil {
		_ = proto.TargetDetachFromTarget{SessionID: s.page.SessionID}.Call(s.browser)
	}
	return nil
}

// IsNoStylesheet reports whether an error is the browser telling us the
// stylesheet id no longer exists, which means the sheet should be dropped
// from tracking.
func IsNoStylesheet(err error) bool {
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) {
		return strings.Contains(cdpErr.Message, "No style sheet with given id")
	}
	return false
}

// ContentKey returns the identity prefix used to match stylesheet texts
// across sessions: the first 100 characters, trimmed. It is the observed
// minimum that survives Vite's prelude injection.
func ContentKey(text string) string {
	if len(text) > 100 {
		text = text[:100]
	}
	return strings.TrimSpace(text)
}
