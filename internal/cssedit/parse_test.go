package cssedit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlattening(t *testing.T) {
	tests := []struct {
		name string
		css  string
		want map[string][]string // selector prelude -> flattened
	}{
		{
			name: "top level",
			css:  `.btn { color: red; }`,
			want: map[string][]string{".btn": {".btn"}},
		},
		{
			name: "descendant nesting",
			css:  `.card { .title { color: red; } }`,
			want: map[string][]string{".title": {".card .title"}},
		},
		{
			name: "ampersand compound",
			css:  `.btn { &.active { color: red; } }`,
			want: map[string][]string{"&.active": {".btn.active"}},
		},
		{
			name: "ampersand descendant",
			css:  `.btn { & .icon { color: red; } }`,
			want: map[string][]string{"& .icon": {".btn .icon"}},
		},
		{
			name: "comma selectors",
			css:  `.a, .b { color: red; }`,
			want: map[string][]string{".a, .b": {".a", ".b"}},
		},
		{
			name: "comma under parent",
			css:  `.p { .a, .b { color: red; } }`,
			want: map[string][]string{".a, .b": {".p .a", ".p .b"}},
		},
		{
			name: "media query is transparent",
			css:  `@media (min-width: 600px) { .a { color: red; } }`,
			want: map[string][]string{".a": {".a"}},
		},
		{
			name: "pseudo with ampersand",
			css:  `.btn { &:hover { color: red; } }`,
			want: map[string][]string{"&:hover": {".btn:hover"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sheet, err := Parse(tt.css)
			require.NoError(t, err)

			got := make(map[string][]string)
			var walk func(rules []*Rule)
			walk = func(rules []*Rule) {
				for _, r := range rules {
					if !r.AtRule {
						got[r.Selector] = r.Flattened()
					}
					walk(r.Rules)
				}
			}
			walk(sheet.Rules)

			for sel, flat := range tt.want {
				require.Contains(t, got, sel)
				assert.Equal(t, flat, got[sel])
			}
		})
	}
}

func TestParseDeclarations(t *testing.T) {
	sheet, err := Parse(".btn {\n  color: red;\n  margin: 0 auto !important;\n}\n")
	require.NoError(t, err)
	require.Len(t, sheet.Rules, 1)

	decls := sheet.Rules[0].Decls
	require.Len(t, decls, 2)

	assert.Equal(t, "color", decls[0].Property)
	assert.Equal(t, "red", decls[0].Value)
	assert.False(t, decls[0].Important)
	assert.Equal(t, uint32(2), decls[0].Pos.Line)
	assert.Equal(t, uint32(2), decls[0].Pos.Col)

	assert.Equal(t, "margin", decls[1].Property)
	assert.Equal(t, "0 auto", decls[1].Value)
	assert.True(t, decls[1].Important)
}

func TestParseScssConstructs(t *testing.T) {
	css := `$accent: #ff0000;

.btn-#{$variant} {
  color: $accent;
}

@mixin focus-ring {
  outline: 2px solid $accent;
}
`
	sheet, err := Parse(css)
	require.NoError(t, err)

	var selectors []string
	for _, r := range sheet.Rules {
		selectors = append(selectors, r.Selector)
	}
	assert.Contains(t, selectors, ".btn-#{$variant}")
	assert.Contains(t, selectors, "@mixin focus-ring")
}

func TestParseScssLineComments(t *testing.T) {
	css := "// heading styles\n.btn {\n  color: red; // brand\n  top: 0;\n}\n"
	sheet, err := Parse(css)
	require.NoError(t, err)
	require.Len(t, sheet.Rules, 1)

	r := sheet.Rules[0]
	assert.Equal(t, ".btn", r.Selector)
	require.Len(t, r.Decls, 2)
	assert.Equal(t, "red", r.Decls[0].Value)
	assert.Equal(t, "top", r.Decls[1].Property)
}

func TestParseLastDeclarationWithoutSemicolon(t *testing.T) {
	sheet, err := Parse(`.a { color: red }`)
	require.NoError(t, err)
	require.Len(t, sheet.Rules, 1)
	require.Len(t, sheet.Rules[0].Decls, 1)
	assert.Equal(t, "red", sheet.Rules[0].Decls[0].Value)
}

func TestParseUnbalancedBraces(t *testing.T) {
	_, err := Parse(`.a { color: red;`)
	require.Error(t, err)
}

func TestParseFunctionValues(t *testing.T) {
	sheet, err := Parse(`.a { background: url(data:image/png;base64,xyz); width: calc(100% - 2rem); }`)
	require.NoError(t, err)
	require.Len(t, sheet.Rules, 1)
	decls := sheet.Rules[0].Decls
	require.Len(t, decls, 2)
	assert.Equal(t, "background", decls[0].Property)
	assert.Equal(t, "width", decls[1].Property)
	assert.Equal(t, "calc(100% - 2rem)", decls[1].Value)
}

func TestNormalizeSelector(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{".a  .b", ".a .b"},
		{".a >  .b", ".a>.b"},
		{".a>.b", ".a>.b"},
		{"  .a\t.b  ", ".a .b"},
		{".a + .b ~ .c", ".a+.b~.c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSelector(tt.in), "input %q", tt.in)
	}
}

func TestSplitImportant(t *testing.T) {
	v, imp := SplitImportant("red !important")
	assert.Equal(t, "red", v)
	assert.True(t, imp)

	v, imp = SplitImportant("0 auto")
	assert.Equal(t, "0 auto", v)
	assert.False(t, imp)

	v, imp = SplitImportant("blue ! IMPORTANT")
	assert.Equal(t, "blue", v)
	assert.True(t, imp)
}
