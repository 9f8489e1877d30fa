package stylesync

import (
	"net/url"
	"sync"
	"time"

	"github.com/yacobolo/stylesync/internal/devtools"
)

// Record tracks one live stylesheet: the browser-provided header, the last
// text snapshot the agent accepted, and whatever source identity has been
// resolved for it. At most one of ViteDevID, OriginalSource and the header
// sourceURL is used per patch, in that preference order.
type Record struct {
	ID             string
	Header         devtools.Header
	Text           string
	HasText        bool
	LastModified   time.Time
	ViteDevID      string
	OriginalSource string
}

// Registry is the authoritative in-memory map of live stylesheets. It is
// recreated on every agent start and cleared before a page reload; nothing
// persists.
type Registry struct {
	mu     sync.Mutex
	sheets map[string]*Record
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sheets: make(map[string]*Record)}
}

// Register adds a stylesheet. Registering an existing id is a no-op that
// returns the existing record.
func (r *Registry) Register(h devtools.Header) Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sheets[h.ID]; ok {
		return *rec
	}
	rec := &Record{ID: h.ID, Header: h}
	r.sheets[h.ID] = rec
	r.order = append(r.order, h.ID)
	return *rec
}

// Get returns a copy of the record, if tracked.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sheets[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// UpdateText stores a newer text snapshot and bumps the modification time.
func (r *Registry) UpdateText(id, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sheets[id]; ok {
		rec.Text = text
		rec.HasText = true
		rec.LastModified = time.Now()
	}
}

// PreviousText returns the stored snapshot used as the old input to the
// differ.
func (r *Registry) PreviousText(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sheets[id]; ok && rec.HasText {
		return rec.Text, true
	}
	return "", false
}

// SetViteDevID annotates a sheet with the absolute path announced via the
// data-vite-dev-id attribute.
func (r *Registry) SetViteDevID(id, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sheets[id]; ok {
		rec.ViteDevID = path
	}
}

// SetOriginalSource annotates a sheet with the authored file resolved from
// an inline source map.
func (r *Registry) SetOriginalSource(id, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sheets[id]; ok {
		rec.OriginalSource = path
	}
}

// FileBased returns the sheets whose text is backed by an authored file: a
// vite dev id, a resolved original source, or a non-inline http/file
// sourceURL. Copies are returned in registration order.
func (r *Registry) FileBased() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, id := range r.order {
		rec, ok := r.sheets[id]
		if !ok {
			continue
		}
		if rec.ViteDevID != "" || rec.OriginalSource != "" || isFileURL(rec.Header) {
			out = append(out, *rec)
		}
	}
	return out
}

// All returns copies of every tracked record in registration order.
func (r *Registry) All() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		if rec, ok := r.sheets[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Remove drops a stylesheet, typically after the browser reports its id as
// gone.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sheets[id]; !ok {
		return
	}
	delete(r.sheets, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Clear empties the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sheets = make(map[string]*Record)
	r.order = nil
}

// Len returns the number of tracked sheets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sheets)
}

func isFileURL(h devtools.Header) bool {
	if h.IsInline || h.SourceURL == "" {
		return false
	}
	u, err := url.Parse(h.SourceURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "file"
}
