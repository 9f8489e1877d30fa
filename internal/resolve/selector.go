package resolve

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// ModuleMatch is the result of reverse-parsing a compiled CSS-module class
// name: the authored module file and the original (un-hashed) class name.
type ModuleMatch struct {
	File string
	Name string
}

// modulePattern recognizes one compiled class-name shape. Each pattern
// captures the component name and the authored class name; the component
// group always starts with a capital letter.
type modulePattern struct {
	name string
	re   *regexp.Regexp
}

// Ordered most-specific first. Swapping the order produces false matches:
// the path-included shapes must win before the simple `Comp_name__hash`
// shape swallows their leading segments.
var modulePatterns = []modulePattern{
	{
		name: "comp-module",
		re:   regexp.MustCompile(`^\.([A-Z][A-Za-z0-9]*)-module_([A-Za-z0-9-]+)__[A-Za-z0-9_-]+$`),
	},
	{
		name: "path-comp-module",
		re:   regexp.MustCompile(`^\.(?:[A-Za-z0-9-]+_)+([A-Z][A-Za-z0-9]*)-module_([A-Za-z0-9-]+)__[A-Za-z0-9_-]+$`),
	},
	{
		name: "dashed-path-comp-module",
		re:   regexp.MustCompile(`^\.(?:[A-Za-z0-9]+-)+([A-Z][A-Za-z0-9]*)-module__([A-Za-z0-9-]+)--[A-Za-z0-9_-]+$`),
	},
	{
		name: "path-comp",
		re:   regexp.MustCompile(`^\.(?:[A-Za-z0-9-]+_)+([A-Z][A-Za-z0-9]*)_([A-Za-z0-9-]+)__[A-Za-z0-9_-]+$`),
	},
	{
		name: "comp",
		re:   regexp.MustCompile(`^\.([A-Z][A-Za-z0-9]*)_([A-Za-z0-9-]+)__[A-Za-z0-9_-]+$`),
	},
}

// skipDirs are never descended into during the module-file search.
var skipDirs = map[string]bool{
	"node_modules": true,
	".next":        true,
	".git":         true,
	"dist":         true,
	"build":        true,
}

const maxSearchDepth = 10

// SelectorResolver locates the authored .module.scss/.module.css file behind
// a compiled CSS-module selector. Results and file contents are cached for
// the session.
type SelectorResolver struct {
	Root string
	Log  *slog.Logger

	mu         sync.Mutex
	selCache   map[string]*ModuleMatch // negative results stored as nil
	fileCache  map[string]string
	ignoreOnce sync.Once
	ignored    *ignore.GitIgnore
}

// NewSelectorResolver creates a resolver anchored at root.
func NewSelectorResolver(root string, log *slog.Logger) *SelectorResolver {
	if log == nil {
		log = slog.Default()
	}
	return &SelectorResolver{
		Root:      root,
		Log:       log,
		selCache:  make(map[string]*ModuleMatch),
		fileCache: make(map[string]string),
	}
}

// ParseModuleClass reverse-parses a compiled selector into its component and
// class name. Only the first whitespace-separated segment is considered.
func ParseModuleClass(selector string) (comp, name string, ok bool) {
	fields := strings.Fields(selector)
	if len(fields) == 0 {
		return "", "", false
	}
	seg := fields[0]
	for _, p := range modulePatterns {
		if m := p.re.FindStringSubmatch(seg); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}

// Resolve maps a compiled CSS-module selector to the authored module file
// containing the original class. Returns nil when the selector is not a
// CSS-module class or no module file defines it.
func (r *SelectorResolver) Resolve(selector string) *ModuleMatch {
	r.mu.Lock()
	if m, ok := r.selCache[selector]; ok {
		r.mu.Unlock()
		return m
	}
	r.mu.Unlock()

	m := r.resolveUncached(selector)

	r.mu.Lock()
	r.selCache[selector] = m
	r.mu.Unlock()
	return m
}

func (r *SelectorResolver) resolveUncached(selector string) *ModuleMatch {
	comp, name, ok := ParseModuleClass(selector)
	if !ok {
		return nil
	}

	candidates := r.findModuleFiles(comp)
	if len(candidates) == 0 {
		r.Log.Debug("selector: no module file", "component", comp, "class", name)
		return nil
	}

	res := classDefPatterns(name)
	for _, f := range candidates {
		content, err := r.fileContent(f)
		if err != nil {
			continue
		}
		for _, re := range res {
			if re.MatchString(content) {
				return &ModuleMatch{File: f, Name: name}
			}
		}
	}
	return nil
}

// classDefPatterns builds the content probes for a class definition: a rule
// opener, an &-nested opener, a comma-continued selector, or a bare
// line-final selector.
func classDefPatterns(name string) []*regexp.Regexp {
	q := regexp.QuoteMeta(name)
	return []*regexp.Regexp{
		regexp.MustCompile(`\.` + q + `\s*\{`),
		regexp.MustCompile(`&\.` + q + `\s*\{`),
		regexp.MustCompile(`\.` + q + `\s*,`),
		regexp.MustCompile(`(?m)\.` + q + `$`),
	}
}

// findModuleFiles walks the project tree breadth-first, bounded in depth and
// skipping build output and gitignored entries, collecting files named
// <Comp>.module.scss or <Comp>.module.css. Exact-case basenames rank before
// case-insensitive ones.
func (r *SelectorResolver) findModuleFiles(comp string) []string {
	type candidate struct {
		path string
		rank int
	}
	var found []candidate

	gi := r.gitignore()
	pattern := "*.module.{scss,css}"

	type qitem struct {
		dir   string
		depth int
	}
	queue := []qitem{{r.Root, 0}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		entries, err := os.ReadDir(it.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			p := filepath.Join(it.dir, e.Name())
			if rel, err := filepath.Rel(r.Root, p); err == nil && gi != nil && gi.MatchesPath(rel) {
				continue
			}
			if e.IsDir() {
				if skipDirs[e.Name()] || strings.HasPrefix(e.Name(), ".") {
					continue
				}
				if it.depth+1 <= maxSearchDepth {
					queue = append(queue, qitem{p, it.depth + 1})
				}
				continue
			}
			matched, _ := doublestar.Match(pattern, e.Name())
			if !matched {
				continue
			}
			base := e.Name()[:strings.Index(e.Name(), ".module.")]
			switch {
			case base == comp:
				found = append(found, candidate{p, 0})
			case strings.EqualFold(base, comp):
				found = append(found, candidate{p, 1})
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].rank < found[j].rank })
	out := make([]string, len(found))
	for i, c := range found {
		out[i] = c.path
	}
	return out
}

func (r *SelectorResolver) fileContent(path string) (string, error) {
	r.mu.Lock()
	if c, ok := r.fileCache[path]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	c := string(data)

	r.mu.Lock()
	r.fileCache[path] = c
	r.mu.Unlock()
	return c, nil
}

// gitignore lazily loads the project .gitignore; a missing file means no
// filtering.
func (r *SelectorResolver) gitignore() *ignore.GitIgnore {
	r.ignoreOnce.Do(func() {
		gi, err := ignore.CompileIgnoreFile(filepath.Join(r.Root, ".gitignore"))
		if err != nil {
			r.ignored = nil
			return
		}
		r.ignored = gi
	})
	return r.ignored
}

// Close drops the session caches.
func (r *SelectorResolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selCache = make(map[string]*ModuleMatch)
	r.fileCache = make(map[string]string)
}
