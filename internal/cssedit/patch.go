package cssedit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PatchResult counts per-change outcomes of a patch run.
type PatchResult struct {
	Success int
	Failed  int
}

// PatchFile applies the changes to the file at path and, when at least one
// change succeeded, writes the result atomically (sibling tempfile + rename).
func PatchFile(path string, changes []Change) (PatchResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PatchResult{Failed: len(changes)}, fmt.Errorf("read %s: %w", path, err)
	}

	out, res, err := PatchText(string(data), changes)
	if err != nil {
		return res, err
	}
	if res.Success == 0 || out == string(data) {
		return res, nil
	}

	if err := writeAtomic(path, []byte(out)); err != nil {
		return res, err
	}
	return res, nil
}

// PatchText applies the changes to a stylesheet text. Every change is applied
// against a fresh parse so byte offsets stay valid; a change whose selector
// matches no rule is counted as failed and leaves the text alone.
func PatchText(src string, changes []Change) (string, PatchResult, error) {
	var res PatchResult
	for _, c := range changes {
		out, ok, err := applyOne(src, c)
		if err != nil {
			return src, res, err
		}
		if !ok {
			res.Failed++
			continue
		}
		res.Success++
		src = out
	}
	return src, res, nil
}

func applyOne(src string, c Change) (string, bool, error) {
	sheet, err := Parse(src)
	if err != nil {
		return src, false, err
	}

	rules := matchRules(sheet.Rules, NormalizeSelector(c.Selector))
	if len(rules) == 0 {
		return src, false, nil
	}

	switch c.Kind {
	case ChangeModify:
		if d := pickDecl(rules, c); d != nil {
			return spliceValue(src, d, c.NewValue), true, nil
		}
		return src, false, nil

	case ChangeAdd:
		if d := pickDecl(rules, c); d != nil {
			return spliceValue(src, d, c.NewValue), true, nil
		}
		return appendDecl(src, rules[0], c), true, nil

	case ChangeDelete:
		r := rules[0]
		for _, cand := range rules {
			if hasProperty(cand, c.Property) {
				r = cand
				break
			}
		}
		out, n := removeDecls(src, r, c.Property)
		return out, n > 0, nil
	}
	return src, false, nil
}

// matchRules collects every rule whose flattened selector list contains the
// normalized target selector, in document order.
func matchRules(rules []*Rule, want string) []*Rule {
	var out []*Rule
	var walk func(rs []*Rule)
	walk = func(rs []*Rule) {
		for _, r := range rs {
			for _, sel := range r.flattened {
				if NormalizeSelector(sel) == want {
					out = append(out, r)
					break
				}
			}
			walk(r.Rules)
		}
	}
	walk(rules)
	return out
}

// pickDecl chooses the declaration to rewrite: the one whose current value
// matches the change's old value, or the first with the right property.
func pickDecl(rules []*Rule, c Change) *Declaration {
	var first *Declaration
	for _, r := range rules {
		for _, d := range r.Decls {
			if d.Property != c.Property {
				continue
			}
			if first == nil {
				first = d
			}
			if c.OldValue != "" && FormatValue(d.Value, d.Important) == c.OldValue {
				return d
			}
		}
	}
	return first
}

func hasProperty(r *Rule, prop string) bool {
	for _, d := range r.Decls {
		if d.Property == prop {
			return true
		}
	}
	return false
}

// spliceValue rewrites a declaration's raw value span with the new value,
// which already carries any !important suffix.
func spliceValue(src string, d *Declaration, newValue string) string {
	value, important := SplitImportant(newValue)
	return src[:d.valueStart] + FormatValue(value, important) + src[d.valueEnd:]
}

// appendDecl inserts a new declaration at the end of the rule body,
// matching the indentation of the declarations already there.
func appendDecl(src string, r *Rule, c Change) string {
	value, important := SplitImportant(c.NewValue)
	decl := c.Property + ": " + FormatValue(value, important) + ";"

	body := src[r.bodyStart:r.bodyEnd]
	last := strings.LastIndexFunc(body, func(ch rune) bool {
		return ch != ' ' && ch != '\t' && ch != '\n' && ch != '\r'
	})

	if !strings.Contains(body, "\n") {
		// Single-line rule: keep it on one line.
		if last < 0 {
			return src[:r.bodyStart] + " " + decl + " " + src[r.bodyEnd:]
		}
		at := r.bodyStart + last + 1
		return src[:at] + " " + decl + src[at:]
	}

	indent := declIndent(src, r)
	if last < 0 {
		return src[:r.bodyStart] + "\n" + indent + decl + src[r.bodyStart:]
	}
	at := r.bodyStart + last + 1
	return src[:at] + "\n" + indent + decl + src[at:]
}

// declIndent infers the indentation for a new declaration: the indentation
// of the rule's first declaration, or the rule line's indentation plus one
// level when the body is empty.
func declIndent(src string, r *Rule) string {
	if len(r.Decls) > 0 {
		return lineIndent(src, r.Decls[0].start)
	}
	if len(r.Rules) > 0 {
		return lineIndent(src, r.Rules[0].bodyStart)
	}
	return lineIndent(src, r.bodyStart) + "  "
}

// lineIndent returns the leading whitespace of the line containing off.
func lineIndent(src string, off int) string {
	start := strings.LastIndexByte(src[:off], '\n') + 1
	end := start
	for end < len(src) && (src[end] == ' ' || src[end] == '\t') {
		end++
	}
	return src[start:end]
}

// removeDecls deletes every declaration of the given property from the rule,
// swallowing the now-empty remainder of each line.
func removeDecls(src string, r *Rule, prop string) (string, int) {
	var spans [][2]int
	for _, d := range r.Decls {
		if d.Property == prop {
			spans = append(spans, [2]int{d.start, d.end})
		}
	}
	for i := len(spans) - 1; i >= 0; i-- {
		start, end := spans[i][0], spans[i][1]
		for start > 0 && (src[start-1] == ' ' || src[start-1] == '\t') {
			start--
		}
		if start > 0 && src[start-1] == '\n' && (end >= len(src) || src[end] == '\n') {
			start--
		}
		src = src[:start] + src[end:]
	}
	return src, len(spans)
}

// writeAtomic writes content to a sibling tempfile and renames it over the
// target, so a reader never observes a half-written file.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%d.tmp", time.Now().UnixNano()))
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
