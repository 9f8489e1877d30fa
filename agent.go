package stylesync

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/yacobolo/stylesync/internal/cssedit"
	"github.com/yacobolo/stylesync/internal/devtools"
	"github.com/yacobolo/stylesync/internal/resolve"
)

// Session is the slice of the DevTools session manager the agent drives.
// *devtools.Session satisfies it; tests substitute fakes.
type Session interface {
	Connect(ctx context.Context, urlPrefix string) error
	OnStylesheetAdded(cb func(devtools.Header))
	OnStylesheetChanged(cb func(id string))
	StylesheetText(ctx context.Context, id string) (string, error)
	ReloadPage(ctx context.Context) error
	FreshStylesheets(ctx context.Context) ([]devtools.FreshSheet, error)
	MatchViteStylesheets(ctx context.Context, sheets []devtools.FreshSheet) ([]devtools.ViteMatch, error)
	Tabs() []devtools.TabInfo
	Close() error
}

type eventKind int

const (
	evAdded eventKind = iota
	evChanged
)

type agentEvent struct {
	kind   eventKind
	header devtools.Header
	id     string
}

// Agent ties the pipeline together: it observes stylesheet change events and
// the polling loop, diffs snapshots, resolves the authored file, and applies
// patches through the per-file queue while the loop guard absorbs the echo.
//
// All handling runs on a single loop goroutine; session callbacks only
// funnel events into a channel, which preserves the ordering the browser
// delivered them in.
type Agent struct {
	cfg       Config
	log       *slog.Logger
	reg       *Registry
	guard     *LoopGuard
	queue     *FileQueue
	session   Session
	urls      *resolve.URLResolver
	smaps     *resolve.SourceMaps
	selectors *resolve.SelectorResolver
	events    chan agentEvent
}

// NewAgent builds an agent with a real DevTools session for the configured
// endpoint.
func NewAgent(cfg Config) *Agent {
	cfg.defaults()
	s := devtools.NewSession(cfg.ChromeHost, cfg.ChromePort, cfg.Logger)
	return NewAgentWithSession(cfg, s)
}

// NewAgentWithSession builds an agent on an externally supplied session.
func NewAgentWithSession(cfg Config, session Session) *Agent {
	cfg.defaults()
	return &Agent{
		cfg:       cfg,
		log:       cfg.Logger,
		reg:       NewRegistry(),
		guard:     NewLoopGuard(cfg.LoopGuardTTL),
		queue:     NewFileQueue(),
		session:   session,
		urls:      resolve.NewURLResolver(cfg.ProjectRoot, cfg.Mappings, cfg.Logger),
		smaps:     resolve.NewSourceMaps(cfg.ProjectRoot, cfg.Logger),
		selectors: resolve.NewSelectorResolver(cfg.ProjectRoot, cfg.Logger),
		events:    make(chan agentEvent, 64),
	}
}

// Registry exposes the stylesheet registry, mainly for tests and status
// output.
func (a *Agent) Registry() *Registry { return a.reg }

// Tabs lists the open page targets of the connected browser.
func (a *Agent) Tabs() []devtools.TabInfo { return a.session.Tabs() }

// Run connects and drives the agent until the context is cancelled. The
// startup sequence is: subscribe handlers, connect, clear the registry,
// reload the page, let it settle, annotate bundler sources, then poll.
func (a *Agent) Run(ctx context.Context) error {
	a.session.OnStylesheetAdded(func(h devtools.Header) {
		select {
		case a.events <- agentEvent{kind: evAdded, header: h}:
		case <-ctx.Done():
		}
	})
	a.session.OnStylesheetChanged(func(id string) {
		select {
		case a.events <- agentEvent{kind: evChanged, id: id}:
		case <-ctx.Done():
		}
	})

	if err := a.session.Connect(ctx, a.cfg.DevServerBase); err != nil {
		return err
	}

	a.reg.Clear()
	if err := a.session.ReloadPage(ctx); err != nil {
		a.log.Warn("initial reload failed", "error", err)
	}

	settle := time.NewTimer(a.cfg.ReloadSettle)
	defer settle.Stop()
	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil

		case ev := <-a.events:
			switch ev.kind {
			case evAdded:
				a.onStylesheetAdded(ctx, ev.header)
			case evChanged:
				a.onStylesheetChanged(ctx, ev.id)
			}

		case <-settle.C:
			a.annotateSources(ctx)
			ticker = time.NewTicker(a.cfg.PollInterval)
			tick = ticker.C

		case <-tick:
			a.pollOnce(ctx)
		}
	}
}

// shutdown runs the teardown ordering: the run loop has already stopped
// reading the poll ticker (its deferred Stop runs once shutdown returns),
// in-flight patches drain, then sessions and caches go.
func (a *Agent) shutdown() {
	a.queue.Wait()
	if err := a.session.Close(); err != nil {
		a.log.Debug("session close", "error", err)
	}
	a.guard.Close()
	a.smaps.Close()
	a.selectors.Close()
}

func (a *Agent) onStylesheetAdded(ctx context.Context, h devtools.Header) {
	a.reg.Register(h)

	if h.SourceURL != "" {
		if p, ok := a.urls.Resolve(h.SourceURL); ok && !resolve.InsideCompiledDir(a.cfg.ProjectRoot, p) {
			a.log.Info("tracking stylesheet", "url", h.SourceURL, "file", p)
		} else if a.cfg.Verbose {
			a.log.Debug("stylesheet added", "id", h.ID, "url", h.SourceURL, "inline", h.IsInline)
		}
	}

	text, err := a.session.StylesheetText(ctx, h.ID)
	if err != nil {
		if devtools.IsNoStylesheet(err) {
			a.reg.Remove(h.ID)
		}
		return
	}
	a.reg.UpdateText(h.ID, text)
}

// onStylesheetChanged reacts to a push event: the fresh-fetch session
// supplies the current text, since the primary session's copy is stale by
// design.
func (a *Agent) onStylesheetChanged(ctx context.Context, id string) {
	fresh, _ := a.session.FreshStylesheets(ctx)

	newText, found := "", false
	for _, f := range fresh {
		if f.ID == id {
			newText, found = f.Text, true
			break
		}
	}
	if !found {
		if prev, ok := a.reg.PreviousText(id); ok {
			key := devtools.ContentKey(prev)
			for _, f := range fresh {
				if f.ContentKey == key {
					newText, found = f.Text, true
					break
				}
			}
		}
	}
	if !found {
		text, err := a.session.StylesheetText(ctx, id)
		if err != nil {
			if devtools.IsNoStylesheet(err) {
				a.reg.Remove(id)
			}
			return
		}
		newText = text
	}

	if prev, ok := a.reg.PreviousText(id); !ok || prev != newText {
		a.handleChange(ctx, id, newText)
	}
}

// annotateSources marks inline stylesheets with their authored file: first
// Vite dev ids from the DOM, then webpack-style inline source maps.
func (a *Agent) annotateSources(ctx context.Context) {
	fresh, _ := a.session.FreshStylesheets(ctx)

	matches, _ := a.session.MatchViteStylesheets(ctx, fresh)
	for _, m := range matches {
		p := m.ViteDevID
		if i := strings.Index(p, "?"); i >= 0 {
			p = p[:i]
		}
		if !fileExists(p) {
			continue
		}
		a.reg.SetViteDevID(m.ID, p)
		a.log.Info("vite stylesheet mapped", "id", m.ID, "file", p)
	}

	for _, rec := range a.reg.All() {
		if !rec.HasText || rec.ViteDevID != "" || rec.OriginalSource != "" {
			continue
		}
		if p, ok := a.smaps.InlineOriginal(rec.Text); ok {
			a.reg.SetOriginalSource(rec.ID, p)
			a.log.Info("webpack stylesheet mapped", "id", rec.ID, "file", p)
		}
	}
}

// pollOnce compares every file-backed sheet against the fresh-fetch snapshot.
// The fresh entry is matched by content key, falling back to equal length;
// sheets the browser no longer knows are dropped.
func (a *Agent) pollOnce(ctx context.Context) {
	tracked := a.reg.FileBased()
	if len(tracked) == 0 {
		return
	}
	fresh, _ := a.session.FreshStylesheets(ctx)
	if len(fresh) == 0 {
		return
	}

	for _, rec := range tracked {
		if !rec.HasText {
			continue
		}
		key := devtools.ContentKey(rec.Text)
		var match *devtools.FreshSheet
		for i := range fresh {
			if fresh[i].ContentKey == key {
				match = &fresh[i]
				break
			}
		}
		if match == nil {
			for i := range fresh {
				if len(fresh[i].Text) == len(rec.Text) {
					match = &fresh[i]
					break
				}
			}
		}
		if match == nil {
			if _, err := a.session.StylesheetText(ctx, rec.ID); devtools.IsNoStylesheet(err) {
				a.log.Info("stylesheet gone, dropping", "id", rec.ID)
				a.reg.Remove(rec.ID)
			}
			continue
		}
		if match.Text != rec.Text {
			a.handleChange(ctx, rec.ID, match.Text)
		}
	}
}

// handleChange is the heart of the pipeline: guard, diff, resolve, patch,
// record.
func (a *Agent) handleChange(ctx context.Context, id, newText string) {
	if a.guard.ShouldIgnore(sheetKey(id), newText) {
		a.reg.UpdateText(id, newText)
		return
	}

	prev, ok := a.reg.PreviousText(id)
	if !ok || prev == newText {
		a.reg.UpdateText(id, newText)
		return
	}

	changes, err := cssedit.Diff(prev, newText)
	if err != nil {
		// Keep the old snapshot so the next event retries the diff.
		a.log.Warn("diff failed", "sheet", id, "error", err)
		return
	}
	if len(changes) == 0 {
		a.reg.UpdateText(id, newText)
		return
	}
	if a.cfg.Verbose {
		for _, c := range changes {
			a.log.Debug("change", "sheet", id, "diff", c.String())
		}
	}

	rec, _ := a.reg.Get(id)
	target := a.resolveTarget(rec)

	if target == "" || resolve.InsideCompiledDir(a.cfg.ProjectRoot, target) {
		// Compiled output is never written to; the hashed class names are
		// the remaining route back to the authored module file.
		if !a.patchModules(id, newText, changes) {
			a.log.Warn("no writable source resolved", "sheet", id, "url", rec.Header.SourceURL)
		}
		a.reg.UpdateText(id, newText)
		return
	}

	// Compiled CSS may still carry a map back to the authored preprocessor
	// source; prefer that file when it exists.
	if strings.HasSuffix(strings.ToLower(target), ".css") {
		first := changes[0]
		if p, ok := a.smaps.OriginalPosition(target, int(first.Pos.Line), int(first.Pos.Col)); ok && resolve.IsAuthoredStyle(p) {
			a.log.Debug("source map redirect", "from", target, "to", p)
			target = p
		}
	}

	a.patchTarget(id, target, newText, changes)
	a.reg.UpdateText(id, newText)
}

func (a *Agent) resolveTarget(rec Record) string {
	if rec.ViteDevID != "" {
		return rec.ViteDevID
	}
	if rec.OriginalSource != "" {
		return rec.OriginalSource
	}
	if rec.Header.SourceURL != "" {
		if p, ok := a.urls.Resolve(rec.Header.SourceURL); ok {
			return p
		}
	}
	return ""
}

// patchTarget runs one patch through the per-file queue and registers the
// write with the loop guard before the run loop proceeds.
func (a *Agent) patchTarget(id, target, newText string, changes []cssedit.Change) {
	done := a.queue.Enqueue(target, func() {
		res, err := cssedit.PatchFile(target, changes)
		if err != nil {
			a.log.Warn("patch failed", "file", target, "error", err)
			return
		}
		a.log.Info("patched", "file", target, "applied", res.Success, "failed", res.Failed)
		if res.Success > 0 {
			if data, rerr := os.ReadFile(target); rerr == nil {
				a.guard.RegisterWrite(target, string(data))
			}
			a.guard.RegisterWrite(sheetKey(id), newText)
		}
	})
	<-done
}

// patchModules resolves each change's compiled CSS-module selector to its
// authored module file, patches per file, and reports whether anything was
// written.
func (a *Agent) patchModules(id, newText string, changes []cssedit.Change) bool {
	groups := make(map[string][]cssedit.Change)
	var order []string
	for _, c := range changes {
		m := a.selectors.Resolve(c.Selector)
		if m == nil {
			continue
		}
		rewritten := c
		rewritten.Selector = "." + m.Name
		if _, ok := groups[m.File]; !ok {
			order = append(order, m.File)
		}
		groups[m.File] = append(groups[m.File], rewritten)
	}

	patched := false
	for _, file := range order {
		cs := groups[file]
		ok := false
		done := a.queue.Enqueue(file, func() {
			res, err := cssedit.PatchFile(file, cs)
			if err != nil {
				a.log.Warn("module patch failed", "file", file, "error", err)
				return
			}
			a.log.Info("patched module", "file", file, "applied", res.Success, "failed", res.Failed)
			if res.Success > 0 {
				ok = true
				if data, rerr := os.ReadFile(file); rerr == nil {
					a.guard.RegisterWrite(file, string(data))
				}
			}
		})
		<-done
		if ok {
			patched = true
		}
	}
	if patched {
		a.guard.RegisterWrite(sheetKey(id), newText)
	}
	return patched
}

func sheetKey(id string) string { return "sheet:" + id }

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
