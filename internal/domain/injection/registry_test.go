package injection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

func newRegistry() *Registry {
	return NewRegistry(Options{ValidateScripts: true})
}

func TestRegisterAppliesDefaults(t *testing.T) {
	reg := newRegistry()

	inj := &Injection{ID: "banner", Code: "document.title = 'x'"}
	prev, err := reg.Register("s1", inj)
	require.NoError(t, err)
	assert.Nil(t, prev)

	got, ok := reg.Get("s1", "banner")
	require.True(t, ok)
	assert.Equal(t, []string{AllURLs}, got.Matches)
	assert.Equal(t, DocumentIdle, got.RunAt)
	assert.False(t, got.RegisteredAt.IsZero())
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		inj  Injection
		code types.ErrorCode
	}{
		{"missing id", Injection{Code: "1"}, types.CodeMissingParams},
		{"missing code", Injection{ID: "a"}, types.CodeMissingParams},
		{"bad runAt", Injection{ID: "a", Code: "1", RunAt: "document_never"}, types.CodeInjectionError},
		{"pattern without scheme", Injection{ID: "a", Code: "1", Matches: []string{"a.com/*"}}, types.CodeInjectionError},
		{"empty pattern", Injection{ID: "a", Code: "1", Matches: []string{" "}}, types.CodeInjectionError},
		{"syntax error", Injection{ID: "a", Code: "function {"}, types.CodeInjectionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry()
			inj := tt.inj
			_, err := reg.Register("s1", &inj)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))
			assert.Equal(t, 0, reg.Count())
		})
	}
}

func TestSyntaxCheckCanBeDisabled(t *testing.T) {
	reg := NewRegistry(Options{ValidateScripts: false})
	_, err := reg.Register("s1", &Injection{ID: "a", Code: "function {"})
	assert.NoError(t, err)
}

func TestReturnStatementIsValidCode(t *testing.T) {
	assert.NoError(t, CheckSyntax("return document.title;"))
}

func TestUpsertAndRestore(t *testing.T) {
	reg := newRegistry()

	first := &Injection{ID: "a", Code: "1"}
	_, err := reg.Register("s1", first)
	require.NoError(t, err)

	prev, err := reg.Register("s1", &Injection{ID: "a", Code: "2"})
	require.NoError(t, err)
	assert.Same(t, first, prev)

	reg.Restore("s1", "a", prev)
	got, _ := reg.Get("s1", "a")
	assert.Equal(t, "1", got.Code)

	_, err = reg.Register("s1", &Injection{ID: "b", Code: "3"})
	require.NoError(t, err)
	reg.Restore("s1", "b", nil)
	_, ok := reg.Get("s1", "b")
	assert.False(t, ok)
}

func TestUnregister(t *testing.T) {
	reg := newRegistry()
	_, err := reg.Register("s1", &Injection{ID: "a", Code: "1"})
	require.NoError(t, err)

	inj, err := reg.Unregister("s1", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", inj.ID)

	_, err = reg.Unregister("s1", "a")
	assert.ErrorIs(t, err, ErrNotFound)

	// ids are scoped to their session
	_, err = reg.Register("s2", &Injection{ID: "a", Code: "1"})
	require.NoError(t, err)
	_, err = reg.Unregister("s1", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrderAndDropSession(t *testing.T) {
	reg := newRegistry()
	for _, id := range []string{"z", "a", "m"} {
		_, err := reg.Register("s1", &Injection{ID: id, Code: "1"})
		require.NoError(t, err)
	}
	_, err := reg.Register("s2", &Injection{ID: "other", Code: "1"})
	require.NoError(t, err)

	var ids []string
	for _, inj := range reg.List("s1") {
		ids = append(ids, inj.ID)
	}
	assert.Equal(t, []string{"z", "a", "m"}, ids)
	assert.Len(t, reg.Snapshot(), 2)

	dropped := reg.DropSession("s1")
	assert.Len(t, dropped, 3)
	assert.Empty(t, reg.List("s1"))
	assert.Equal(t, 1, reg.Count())
}

func TestValidatePatternAcceptsWhatMatches(t *testing.T) {
	for _, p := range []string{AllURLs, "https://a.com/[x", "https://a.com/p?q=1", "*://*/{x}", "file:///*"} {
		assert.NoError(t, ValidatePattern(p), p)
	}
	assert.Error(t, ValidatePattern("no-scheme/*"))

	reg := newRegistry()
	_, err := reg.Register("s1", &Injection{ID: "a", Code: "1", Matches: []string{"https://a.com/[x"}})
	require.NoError(t, err)
	assert.True(t, Matches(reg.List("s1")[0].Matches, "https://a.com/[x"))
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		url     string
		want    bool
	}{
		{AllURLs, "https://anything.example/x", true},
		{"https://a.com/*", "https://a.com/page", true},
		{"https://a.com/*", "https://a.com/deep/path?q=1", true},
		{"https://a.com/*", "https://b.com/page", false},
		{"*://*.example.com/*", "http://www.example.com/", true},
		{"https://a.com/exact", "https://a.com/exact", true},
		{"https://a.com/exact", "https://a.com/exactly", false},
		{"https://a.com/page?x=1", "https://a.com/page?x=1", true},
		{"https://a.com/page?x=1", "https://a.com/pageAx=1", false},
		{"https://a.com/[x]/*", "https://a.com/[x]/y", true},
		{"https://a.com/[x]/*", "https://a.com/x/y", false},
		{"https://a.com/{a,b}", "https://a.com/a", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPattern(tt.pattern, tt.url))
		})
	}

	assert.True(t, Matches([]string{"https://x.com/*", "https://a.com/*"}, "https://a.com/p"))
	assert.False(t, Matches(nil, "https://a.com/p"))
}
