package resolve

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/go-sourcemap/sourcemap"
)

var (
	inlineMapRE   = regexp.MustCompile(`sourceMappingURL=data:application/json[^,]*;base64,([A-Za-z0-9+/=]+)`)
	externalMapRE = regexp.MustCompile(`sourceMappingURL=([^\s*]+\.map)`)
)

// SourceMaps extracts and decodes V3 source maps, inline or sibling-file,
// and reverse-maps compiled positions to authored files. Decoded consumers
// and discovered sources are cached for the session; Close drops the caches.
type SourceMaps struct {
	Root string
	Log  *slog.Logger

	mu        sync.Mutex
	consumers map[string]*sourcemap.Consumer // by CSS file path
	inline    map[string]string              // by content prefix key
}

// NewSourceMaps creates a resolver anchored at root.
func NewSourceMaps(root string, log *slog.Logger) *SourceMaps {
	if log == nil {
		log = slog.Default()
	}
	return &SourceMaps{
		Root:      root,
		Log:       log,
		consumers: make(map[string]*sourcemap.Consumer),
		inline:    make(map[string]string),
	}
}

// v3map is the slice of the source-map JSON the inline discovery needs; the
// consumer handles the mappings themselves.
type v3map struct {
	Version int      `json:"version"`
	Sources []string `json:"sources"`
}

// InlineOriginal extracts the inline base64 source map from a stylesheet
// text and returns the first sources[] entry that exists on disk. This is
// how webpack and Next.js dev-mode inline styles announce their authored
// SCSS file.
func (s *SourceMaps) InlineOriginal(text string) (string, bool) {
	key := contentPrefix(text)

	s.mu.Lock()
	if p, ok := s.inline[key]; ok {
		s.mu.Unlock()
		return p, p != ""
	}
	s.mu.Unlock()

	p := s.inlineOriginalUncached(text)

	s.mu.Lock()
	s.inline[key] = p
	s.mu.Unlock()
	return p, p != ""
}

func (s *SourceMaps) inlineOriginalUncached(text string) string {
	m := inlineMapRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		s.Log.Debug("sourcemap: inline base64 decode failed", "error", err)
		return ""
	}
	var sm v3map
	if err := json.Unmarshal(raw, &sm); err != nil {
		s.Log.Debug("sourcemap: inline json decode failed", "error", err)
		return ""
	}
	for _, src := range sm.Sources {
		p := s.cleanSource(src)
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.Root, p)
		}
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// cleanSource strips the bundler prefixes and query strings a sources[]
// entry tends to carry.
func (s *SourceMaps) cleanSource(src string) string {
	if i := strings.Index(src, "?"); i >= 0 {
		src = src[:i]
	}
	if strings.HasPrefix(src, "webpack://") {
		src = strings.TrimPrefix(src, "webpack://")
		// webpack://<host>/<path> — drop the host segment.
		if i := strings.Index(src, "/"); i >= 0 {
			src = src[i+1:]
		}
	}
	src = strings.TrimPrefix(src, "webpack-internal:///")
	src = strings.TrimPrefix(src, "./")
	if src == "" {
		return ""
	}
	return filepath.FromSlash(src)
}

// OriginalPosition reverse-maps a position in a compiled CSS file to the
// authored source. Relative results are resolved against the CSS file's
// directory. The map is loaded once per file and cached.
func (s *SourceMaps) OriginalPosition(cssPath string, line, col int) (string, bool) {
	c := s.consumerFor(cssPath)
	if c == nil {
		return "", false
	}
	src, _, _, _, ok := c.Source(line, col)
	if !ok || src == "" {
		return "", false
	}
	p := s.cleanSource(src)
	if p == "" {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(cssPath), p)
	}
	if !fileExists(p) {
		return "", false
	}
	return p, true
}

// IsAuthoredStyle reports whether a path names a preprocessor source the
// patcher should target instead of the compiled CSS.
func IsAuthoredStyle(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".scss", ".sass", ".less":
		return true
	}
	return false
}

func (s *SourceMaps) consumerFor(cssPath string) *sourcemap.Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.consumers[cssPath]; ok {
		return c
	}

	c := s.loadConsumer(cssPath)
	s.consumers[cssPath] = c // negative results cached too
	return c
}

func (s *SourceMaps) loadConsumer(cssPath string) *sourcemap.Consumer {
	data, err := os.ReadFile(cssPath)
	if err != nil {
		s.Log.Debug("sourcemap: read css failed", "path", cssPath, "error", err)
		return nil
	}
	text := string(data)

	var raw []byte
	if m := inlineMapRE.FindStringSubmatch(text); m != nil {
		raw, err = base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			s.Log.Debug("sourcemap: inline decode failed", "path", cssPath, "error", err)
			return nil
		}
	} else if m := externalMapRE.FindStringSubmatch(text); m != nil {
		mapPath := m[1]
		if !filepath.IsAbs(mapPath) {
			mapPath = filepath.Join(filepath.Dir(cssPath), filepath.FromSlash(mapPath))
		}
		raw, err = os.ReadFile(mapPath)
		if err != nil {
			s.Log.Debug("sourcemap: external map read failed", "path", mapPath, "error", err)
			return nil
		}
	} else {
		return nil
	}

	c, err := sourcemap.Parse(cssPath+".map", raw)
	if err != nil {
		s.Log.Debug("sourcemap: parse failed", "path", cssPath, "error", err)
		return nil
	}
	return c
}

// Close drops the session caches.
func (s *SourceMaps) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers = make(map[string]*sourcemap.Consumer)
	s.inline = make(map[string]string)
}

// contentPrefix keys the inline cache by the leading text of a stylesheet.
func contentPrefix(text string) string {
	t := strings.TrimSpace(text)
	if len(t) > 200 {
		t = t[:200]
	}
	return t
}
