package resolve

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inlineMapComment(t *testing.T, jsonMap string) string {
	t.Helper()
	b64 := base64.StdEncoding.EncodeToString([]byte(jsonMap))
	return fmt.Sprintf("/*# sourceMappingURL=data:application/json;charset=utf-8;base64,%s */", b64)
}

func TestInlineOriginalWebpackSource(t *testing.T) {
	root := t.TempDir()
	authored := filepath.Join(root, "styles", "app.scss")
	require.NoError(t, os.MkdirAll(filepath.Dir(authored), 0o755))
	require.NoError(t, os.WriteFile(authored, []byte(".foo { color: red; }\n"), 0o644))

	sm := NewSourceMaps(root, nil)

	text := ".foo{color:red}\n" + inlineMapComment(t,
		`{"version":3,"sources":["webpack://my-app/./styles/app.scss"],"mappings":"AAAA"}`)

	p, ok := sm.InlineOriginal(text)
	require.True(t, ok)
	assert.Equal(t, authored, p)

	// Cached: same content prefix resolves without re-decoding.
	p2, ok2 := sm.InlineOriginal(text)
	require.True(t, ok2)
	assert.Equal(t, p, p2)
}

func TestInlineOriginalSkipsMissingSources(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "b.scss")
	require.NoError(t, os.WriteFile(existing, []byte(".b {}\n"), 0o644))

	sm := NewSourceMaps(root, nil)
	text := ".b{}\n" + inlineMapComment(t,
		`{"version":3,"sources":["./a.scss","./b.scss?v=1"],"mappings":"AAAA"}`)

	p, ok := sm.InlineOriginal(text)
	require.True(t, ok)
	assert.Equal(t, existing, p)
}

func TestInlineOriginalNoMap(t *testing.T) {
	sm := NewSourceMaps(t.TempDir(), nil)
	_, ok := sm.InlineOriginal(".a { color: red; }")
	assert.False(t, ok)
}

func TestOriginalPositionInlineMap(t *testing.T) {
	root := t.TempDir()
	authored := filepath.Join(root, "app.scss")
	require.NoError(t, os.WriteFile(authored, []byte(".foo { color: red; }\n"), 0o644))

	cssPath := filepath.Join(root, "app.css")
	css := ".foo{color:red}\n" + inlineMapComment(t,
		`{"version":3,"sources":["app.scss"],"mappings":"AAAA"}`)
	require.NoError(t, os.WriteFile(cssPath, []byte(css), 0o644))

	sm := NewSourceMaps(root, nil)
	p, ok := sm.OriginalPosition(cssPath, 1, 0)
	require.True(t, ok)
	assert.Equal(t, authored, p)
}

func TestOriginalPositionExternalMap(t *testing.T) {
	root := t.TempDir()
	authored := filepath.Join(root, "app.scss")
	require.NoError(t, os.WriteFile(authored, []byte(".foo { color: red; }\n"), 0o644))

	cssPath := filepath.Join(root, "app.css")
	require.NoError(t, os.WriteFile(cssPath,
		[]byte(".foo{color:red}\n/*# sourceMappingURL=app.css.map */"), 0o644))
	require.NoError(t, os.WriteFile(cssPath+".map",
		[]byte(`{"version":3,"sources":["app.scss"],"mappings":"AAAA"}`), 0o644))

	sm := NewSourceMaps(root, nil)
	p, ok := sm.OriginalPosition(cssPath, 1, 0)
	require.True(t, ok)
	assert.Equal(t, authored, p)
}

func TestOriginalPositionNoMapDegrades(t *testing.T) {
	root := t.TempDir()
	cssPath := filepath.Join(root, "plain.css")
	require.NoError(t, os.WriteFile(cssPath, []byte(".a { top: 0; }\n"), 0o644))

	sm := NewSourceMaps(root, nil)
	_, ok := sm.OriginalPosition(cssPath, 1, 0)
	assert.False(t, ok)
}

func TestIsAuthoredStyle(t *testing.T) {
	assert.True(t, IsAuthoredStyle("/x/app.scss"))
	assert.True(t, IsAuthoredStyle("/x/app.sass"))
	assert.True(t, IsAuthoredStyle("/x/app.less"))
	assert.False(t, IsAuthoredStyle("/x/app.css"))
}
