package cssedit

import "fmt"

// ChangeKind classifies a declaration change.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeModify
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeModify:
		return "modify"
	case ChangeDelete:
		return "delete"
	}
	return "unknown"
}

// Change is one semantic declaration difference between two stylesheet
// snapshots. Values carry the literal !important suffix when set; an empty
// OldValue means the declaration is new, an empty NewValue means it was
// removed.
type Change struct {
	Kind     ChangeKind
	Selector string // flattened selector as it appears in the compiled CSS
	Property string
	OldValue string
	NewValue string
	Pos      Position // in the new text (old text for deletes)
}

func (c Change) String() string {
	switch c.Kind {
	case ChangeAdd:
		return fmt.Sprintf("add %s { %s: %s }", c.Selector, c.Property, c.NewValue)
	case ChangeModify:
		return fmt.Sprintf("modify %s { %s: %s -> %s }", c.Selector, c.Property, c.OldValue, c.NewValue)
	default:
		return fmt.Sprintf("delete %s { %s: %s }", c.Selector, c.Property, c.OldValue)
	}
}

// flatDecl is one declaration with its flattened selector, in document order.
type flatDecl struct {
	sel       string
	prop      string
	value     string
	important bool
	pos       Position
}

func (d flatDecl) key() string { return d.sel + "\x00" + d.prop }

func (d flatDecl) formatted() string { return FormatValue(d.value, d.important) }

func (d flatDecl) equal(o flatDecl) bool {
	return d.value == o.value && d.important == o.important
}

// Diff parses two stylesheet texts and returns the declaration changes that
// turn old into new. Declarations are grouped by (selector, property) in
// document order, duplicates preserved, and compared index by index within
// each group.
func Diff(oldText, newText string) ([]Change, error) {
	oldSheet, err := Parse(oldText)
	if err != nil {
		return nil, fmt.Errorf("old text: %w", err)
	}
	newSheet, err := Parse(newText)
	if err != nil {
		return nil, fmt.Errorf("new text: %w", err)
	}

	oldDecls := collectDecls(oldSheet)
	newDecls := collectDecls(newSheet)

	oldByKey := make(map[string][]flatDecl)
	for _, d := range oldDecls {
		oldByKey[d.key()] = append(oldByKey[d.key()], d)
	}
	newCount := make(map[string]int)
	for _, d := range newDecls {
		newCount[d.key()]++
	}

	var changes []Change

	// Adds and modifies, in new-text order.
	seen := make(map[string]int)
	for _, d := range newDecls {
		k := d.key()
		idx := seen[k]
		seen[k]++
		olds := oldByKey[k]
		if idx < len(olds) {
			if !d.equal(olds[idx]) {
				changes = append(changes, Change{
					Kind:     ChangeModify,
					Selector: d.sel,
					Property: d.prop,
					OldValue: olds[idx].formatted(),
					NewValue: d.formatted(),
					Pos:      d.pos,
				})
			}
			continue
		}
		changes = append(changes, Change{
			Kind:     ChangeAdd,
			Selector: d.sel,
			Property: d.prop,
			NewValue: d.formatted(),
			Pos:      d.pos,
		})
	}

	// Deletes: old entries past the new group length, in old-text order.
	oldSeen := make(map[string]int)
	for _, d := range oldDecls {
		k := d.key()
		idx := oldSeen[k]
		oldSeen[k]++
		if idx >= newCount[k] {
			changes = append(changes, Change{
				Kind:     ChangeDelete,
				Selector: d.sel,
				Property: d.prop,
				OldValue: d.formatted(),
				Pos:      d.pos,
			})
		}
	}

	return changes, nil
}

// collectDecls walks the rule tree and emits one flatDecl per declaration per
// flattened selector, preserving document order.
func collectDecls(sheet *Stylesheet) []flatDecl {
	var out []flatDecl
	var walk func(rules []*Rule)
	walk = func(rules []*Rule) {
		for _, r := range rules {
			for _, sel := range r.flattened {
				for _, d := range r.Decls {
					out = append(out, flatDecl{
						sel:       sel,
						prop:      d.Property,
						value:     d.Value,
						important: d.Important,
						pos:       d.Pos,
					})
				}
			}
			walk(r.Rules)
		}
	}
	walk(sheet.Rules)
	return out
}
