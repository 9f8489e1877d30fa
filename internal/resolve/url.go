// Package resolve maps live browser stylesheets back to authored source
// files: by URL pattern, by source map, and by compiled CSS-module class
// name.
package resolve

import (
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Mapping is a user-supplied URL-prefix to local-prefix rule, consulted
// before the built-in heuristics.
type Mapping struct {
	URLPrefix   string
	LocalPrefix string
}

// URLResolver turns stylesheet URLs into local source paths rooted at the
// project directory.
type URLResolver struct {
	Root     string
	Mappings []Mapping
	Log      *slog.Logger
}

// NewURLResolver creates a resolver anchored at root.
func NewURLResolver(root string, mappings []Mapping, log *slog.Logger) *URLResolver {
	if log == nil {
		log = slog.Default()
	}
	return &URLResolver{Root: root, Mappings: mappings, Log: log}
}

var nextCSSRE = regexp.MustCompile(`^(?:/[^/]+)*?/_next/static/css/(.+)$`)

// Resolve maps a stylesheet URL (absolute, relative, or file://) to a local
// path. The boolean reports whether a path was produced at all; a produced
// path under .next/static/css may not exist and signals the caller to fall
// back to selector-based resolution.
func (r *URLResolver) Resolve(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}

	if strings.HasPrefix(rawURL, "file://") {
		p := strings.TrimPrefix(rawURL, "file://")
		if fileExists(p) {
			return p, true
		}
		return "", false
	}

	pathname := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		if u.Path != "" {
			pathname = u.Path
		}
	} else if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		pathname = rawURL[:i]
	}

	// User mappings win over every built-in rule.
	for _, m := range r.Mappings {
		if strings.HasPrefix(pathname, m.URLPrefix) {
			rest := strings.TrimPrefix(pathname, m.URLPrefix)
			p := filepath.Join(r.Root, m.LocalPrefix, filepath.FromSlash(rest))
			if fileExists(p) {
				return p, true
			}
		}
	}

	if m := nextCSSRE.FindStringSubmatch(pathname); m != nil {
		return r.resolveNext(m[1])
	}

	if p, ok := r.resolveBuiltin(pathname); ok {
		return p, true
	}

	// Last-resort probes relative to well-known roots.
	rel := filepath.FromSlash(strings.TrimPrefix(pathname, "/"))
	for _, base := range []string{"", "src", "public"} {
		p := filepath.Join(r.Root, base, rel)
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

// resolveBuiltin applies the ordered built-in URL rules; first existing file
// wins.
func (r *URLResolver) resolveBuiltin(pathname string) (string, bool) {
	type rule struct {
		prefix string
		dirs   []string
	}
	rules := []rule{
		{"/src/", []string{"src"}},
		{"/assets/", []string{"src/assets", "assets", "src/styles", "styles", "public/assets"}},
		{"/static/", []string{"static", "public/static"}},
		{"/styles/", []string{"styles", "src/styles"}},
		{"/css/", []string{"css", "src/css", "public/css"}},
	}
	for _, rl := range rules {
		if !strings.HasPrefix(pathname, rl.prefix) {
			continue
		}
		rest := filepath.FromSlash(strings.TrimPrefix(pathname, rl.prefix))
		for _, dir := range rl.dirs {
			p := filepath.Join(r.Root, dir, rest)
			if fileExists(p) {
				return p, true
			}
		}
	}

	// Bare /<name>.css is usually served out of public/.
	if strings.HasSuffix(pathname, ".css") && strings.Count(pathname, "/") == 1 {
		p := filepath.Join(r.Root, "public", filepath.FromSlash(strings.TrimPrefix(pathname, "/")))
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

// resolveNext probes the authored files a Next.js compiled CSS chunk usually
// comes from. When nothing matches, the compiled path itself is returned so
// the caller can fall back to selector-based resolution.
func (r *URLResolver) resolveNext(rest string) (string, bool) {
	base := path.Base(rest)
	dir := path.Dir(rest)

	switch {
	case strings.HasSuffix(base, "layout.css"):
		dirs := []string{dir, "app", "styles"}
		if dir == "." {
			dirs = dirs[1:]
		}
		for _, d := range dirs {
			for _, name := range []string{"globals", "global"} {
				for _, ext := range []string{".css", ".scss"} {
					p := filepath.Join(r.Root, filepath.FromSlash(d), name+ext)
					if fileExists(p) {
						return p, true
					}
				}
			}
		}

	case strings.HasSuffix(base, "page.css"):
		for _, name := range []string{"page.module", "styles.module"} {
			for _, ext := range []string{".scss", ".css"} {
				p := filepath.Join(r.Root, filepath.FromSlash(dir), name+ext)
				if fileExists(p) {
					return p, true
				}
			}
		}
	}

	return filepath.Join(r.Root, ".next", "static", "css", filepath.FromSlash(rest)), true
}

// InsideCompiledDir reports whether a path sits under a build output tree
// that must never be written to.
func InsideCompiledDir(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, d := range []string{".next/", "node_modules/", "dist/", "build/"} {
		if strings.HasPrefix(rel, d) {
			return true
		}
	}
	return false
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
