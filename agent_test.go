package stylesync

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yacobolo/stylesync/internal/devtools"
)

var errNoSheet = &cdp.Error{Code: -32000, Message: "No style sheet with given id found"}

// fakeSession scripts the DevTools side of the pipeline.
type fakeSession struct {
	mu        sync.Mutex
	addedCbs  []func(devtools.Header)
	changedCb []func(string)
	texts     map[string]string
	fresh     []devtools.FreshSheet
	vite      []devtools.ViteMatch
	connected bool
	reloads   int
}

func newFakeSession() *fakeSession {
	return &fakeSession{texts: make(map[string]string)}
}

func (f *fakeSession) Connect(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeSession) OnStylesheetAdded(cb func(devtools.Header)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addedCbs = append(f.addedCbs, cb)
}

func (f *fakeSession) OnStylesheetChanged(cb func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changedCb = append(f.changedCb, cb)
}

func (f *fakeSession) emitAdded(h devtools.Header) {
	f.mu.Lock()
	cbs := append([]func(devtools.Header){}, f.addedCbs...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(h)
	}
}

func (f *fakeSession) StylesheetText(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.texts[id]; ok {
		return t, nil
	}
	return "", errNoSheet
}

func (f *fakeSession) ReloadPage(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeSession) FreshStylesheets(_ context.Context) ([]devtools.FreshSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]devtools.FreshSheet{}, f.fresh...), nil
}

func (f *fakeSession) MatchViteStylesheets(_ context.Context, _ []devtools.FreshSheet) ([]devtools.ViteMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]devtools.ViteMatch{}, f.vite...), nil
}

func (f *fakeSession) Tabs() []devtools.TabInfo { return nil }

func (f *fakeSession) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgent(t *testing.T, root string, fake *fakeSession) *Agent {
	t.Helper()
	return NewAgentWithSession(Config{
		DevServerBase: "http://localhost:3000",
		ProjectRoot:   root,
		Logger:        testLogger(),
		ReloadSettle:  10 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}, fake)
}

func TestHandleChangePatchesResolvedFile(t *testing.T) {
	root := t.TempDir()
	cssPath := filepath.Join(root, "src", "app.css")
	require.NoError(t, os.MkdirAll(filepath.Dir(cssPath), 0o755))
	require.NoError(t, os.WriteFile(cssPath, []byte(".btn { color: red; }"), 0o644))

	fake := newFakeSession()
	a := newTestAgent(t, root, fake)
	defer a.shutdown()

	a.reg.Register(devtools.Header{ID: "s1", SourceURL: "http://localhost:3000/src/app.css"})
	a.reg.UpdateText("s1", ".btn { color: red; }")

	a.handleChange(context.Background(), "s1", ".btn { color: blue; }")

	data, err := os.ReadFile(cssPath)
	require.NoError(t, err)
	assert.Equal(t, ".btn { color: blue; }", string(data))

	text, ok := a.reg.PreviousText("s1")
	require.True(t, ok)
	assert.Equal(t, ".btn { color: blue; }", text)

	// The write is registered under both keys.
	assert.True(t, a.guard.ShouldIgnore(sheetKey("s1"), ".btn { color: blue; }"))
	assert.True(t, a.guard.ShouldIgnore(cssPath, ".btn { color: blue; }"))
}

func TestHandleChangeLoopGuardAbsorbsEcho(t *testing.T) {
	root := t.TempDir()
	cssPath := filepath.Join(root, "src", "app.css")
	require.NoError(t, os.MkdirAll(filepath.Dir(cssPath), 0o755))
	require.NoError(t, os.WriteFile(cssPath, []byte(".btn { color: red; }"), 0o644))

	fake := newFakeSession()
	a := newTestAgent(t, root, fake)
	defer a.shutdown()

	a.reg.Register(devtools.Header{ID: "s1", SourceURL: "http://localhost:3000/src/app.css"})
	a.reg.UpdateText("s1", ".btn { color: red; }")
	a.handleChange(context.Background(), "s1", ".btn { color: blue; }")

	// The HMR echo delivers identical text; the file must not be rewritten.
	info1, err := os.Stat(cssPath)
	require.NoError(t, err)
	a.handleChange(context.Background(), "s1", ".btn { color: blue; }")
	info2, err := os.Stat(cssPath)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestHandleChangeModuleResolution(t *testing.T) {
	root := t.TempDir()
	modPath := filepath.Join(root, "src", "components", "Menu.module.scss")
	require.NoError(t, os.MkdirAll(filepath.Dir(modPath), 0o755))
	require.NoError(t, os.WriteFile(modPath, []byte(".item {\n  padding: 4px;\n}\n"), 0o644))

	fake := newFakeSession()
	a := newTestAgent(t, root, fake)
	defer a.shutdown()

	// An inline sheet with no source identity forces module resolution.
	a.reg.Register(devtools.Header{ID: "s2", IsInline: true})
	a.reg.UpdateText("s2", ".Menu_item__abc123 { padding: 4px; }")

	a.handleChange(context.Background(), "s2", ".Menu_item__abc123 { padding: 8px; }")

	data, err := os.ReadFile(modPath)
	require.NoError(t, err)
	assert.Equal(t, ".item {\n  padding: 8px;\n}\n", string(data))
}

func TestHandleChangeDiffFailureKeepsSnapshot(t *testing.T) {
	root := t.TempDir()
	fake := newFakeSession()
	a := newTestAgent(t, root, fake)
	defer a.shutdown()

	a.reg.Register(devtools.Header{ID: "s3", IsInline: true})
	a.reg.UpdateText("s3", ".a { color: red; }")

	a.handleChange(context.Background(), "s3", ".a { color: blue;")

	// The snapshot is untouched so the next event retries the diff.
	text, ok := a.reg.PreviousText("s3")
	require.True(t, ok)
	assert.Equal(t, ".a { color: red; }", text)
}

func TestPollOnceDetectsChangeByContentKey(t *testing.T) {
	root := t.TempDir()
	scssPath := filepath.Join(root, "button.scss")
	require.NoError(t, os.WriteFile(scssPath, []byte(".btn { color: red; }\n"), 0o644))

	// The edit sits past the 100-char identity prefix so the content key
	// still matches.
	pad := strings.Repeat("/* preamble */\n", 10)
	oldText := pad + ".btn { color: red; }"
	newText := pad + ".btn { color: blue; }"

	fake := newFakeSession()
	fake.texts["s4"] = oldText
	fake.fresh = []devtools.FreshSheet{{ID: "fresh-1", Text: newText, ContentKey: devtools.ContentKey(newText)}}

	a := newTestAgent(t, root, fake)
	defer a.shutdown()

	a.reg.Register(devtools.Header{ID: "s4", IsInline: true})
	a.reg.SetViteDevID("s4", scssPath)
	a.reg.UpdateText("s4", oldText)

	a.pollOnce(context.Background())

	data, err := os.ReadFile(scssPath)
	require.NoError(t, err)
	assert.Equal(t, ".btn { color: blue; }\n", string(data))
}

func TestPollOnceDropsVanishedSheet(t *testing.T) {
	root := t.TempDir()
	fake := newFakeSession()
	fake.fresh = []devtools.FreshSheet{{ID: "other", Text: "body {}", ContentKey: "body {}"}}

	a := newTestAgent(t, root, fake)
	defer a.shutdown()

	a.reg.Register(devtools.Header{ID: "gone", IsInline: true})
	a.reg.SetViteDevID("gone", filepath.Join(root, "x.scss"))
	a.reg.UpdateText("gone", ".x { top: 0; }")

	a.pollOnce(context.Background())

	_, ok := a.reg.Get("gone")
	assert.False(t, ok, "sheet unknown to the browser must be dropped")
}

func TestRunProcessesAddedEvents(t *testing.T) {
	root := t.TempDir()
	fake := newFakeSession()
	fake.texts["s5"] = ".a { color: red; }"

	a := newTestAgent(t, root, fake)

	ctx, cancel := context.WithCancel(context.Background())
	doneRun := make(chan error, 1)
	go func() { doneRun <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		fake.mu.Lock()
		ok := fake.connected && len(fake.addedCbs) > 0
		fake.mu.Unlock()
		return ok
	}, time.Second, 5*time.Millisecond)

	fake.emitAdded(devtools.Header{ID: "s5", SourceURL: "http://localhost:3000/src/app.css"})

	require.Eventually(t, func() bool {
		text, ok := a.reg.PreviousText("s5")
		return ok && text == ".a { color: red; }"
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-doneRun)

	fake.mu.Lock()
	assert.Equal(t, 1, fake.reloads)
	fake.mu.Unlock()
}
