package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

func attempt(id string, headers ...domain.HeaderEntry) *traffic.Attempt {
	a := traffic.NewAttempt(id, "scope-1")
	a.Headers = headers
	return a
}

func TestResolveDefaultsToTransportID(t *testing.T) {
	r := New()
	assert.Equal(t, "7", r.Resolve("7"))
}

func TestRedirectRecordsSourceOnce(t *testing.T) {
	r := New()
	resumed := r.Redirect(attempt("1"), attempt("2"), false)
	require.False(t, resumed)

	assert.True(t, r.IsRedirect("2"))
	assert.True(t, r.IsRedirect("2"), "IsRedirect must not consume the link")

	from, ok := r.TakeRedirectSource("2")
	require.True(t, ok)
	assert.Equal(t, "1", from)

	_, ok = r.TakeRedirectSource("2")
	assert.False(t, ok)
}

func TestInternalRedirectCreatesNoLink(t *testing.T) {
	r := New()
	resumed := r.Redirect(attempt("1"), attempt("2"), true)
	assert.False(t, resumed)
	assert.False(t, r.IsRedirect("2"))
	assert.Equal(t, "2", r.Resolve("2"))
}

func TestOverrideReplacesHeadersOnNextAttempt(t *testing.T) {
	r := New()
	method := "POST"
	override := &traffic.Override{
		Method:   &method,
		Headers:  traffic.Headers{{Name: "X-Only", Value: "1"}},
		PostData: []byte("payload"),
	}
	r.RecordOverride("1", override)
	require.True(t, r.HasOverride("1"))

	next := attempt("2",
		domain.HeaderEntry{Name: "Accept", Value: "*/*"},
		domain.HeaderEntry{Name: "Cookie", Value: "a=b"},
	)
	resumed := r.Redirect(attempt("1"), next, true)
	require.True(t, resumed)

	assert.Equal(t, traffic.Headers{{Name: "X-Only", Value: "1"}}, next.Headers)
	assert.Equal(t, "POST", next.Method)
	assert.Equal(t, []byte("payload"), next.PostData)

	assert.False(t, r.HasOverride("1"), "override is consumed")
	assert.True(t, r.IsResumed("2"))
	assert.Equal(t, "1", r.Resolve("2"))
	assert.False(t, r.IsRedirect("2"), "resumed continuation is not a redirect")
}

func TestEmptyOverrideKeepsRequest(t *testing.T) {
	r := New()
	r.RecordOverride("1", nil)

	next := attempt("2", domain.HeaderEntry{Name: "Accept", Value: "*/*"})
	next.PostData = []byte("keep")
	require.True(t, r.Redirect(attempt("1"), next, false))

	assert.Equal(t, traffic.Headers{{Name: "Accept", Value: "*/*"}}, next.Headers)
	assert.Equal(t, "GET", next.Method)
	assert.Equal(t, []byte("keep"), next.PostData)
}

func TestResolvePrefersResumeOverAuth(t *testing.T) {
	r := New()
	r.MarkAuthenticated("2")
	require.True(t, r.ConvertPendingAuth("2"))
	assert.Equal(t, "2"+AuthSuffix, r.Resolve("2"))

	r.RecordOverride("1", nil)
	r.Redirect(attempt("1"), attempt("2"), true)
	assert.Equal(t, "1", r.Resolve("2"))
}

func TestConvertPendingAuth(t *testing.T) {
	r := New()
	assert.False(t, r.ConvertPendingAuth("5"), "no credentials supplied")

	r.MarkAuthenticated("5")
	require.True(t, r.ConvertPendingAuth("5"))
	assert.False(t, r.ConvertPendingAuth("5"), "conversion happens once")

	assert.Equal(t, "5-auth", r.Resolve("5"))
	from, ok := r.TakeRedirectSource("5-auth")
	require.True(t, ok)
	assert.Equal(t, "5", from)

	pre, ok := r.PreAuthID("5")
	require.True(t, ok)
	assert.Equal(t, "5", pre)
}

func TestReleaseClearsAttemptState(t *testing.T) {
	r := New()
	r.RecordOverride("1", nil)
	r.Redirect(attempt("1"), attempt("2"), true)
	r.MarkAuthenticated("2")

	r.Release("2", "1")

	assert.False(t, r.IsResumed("2"))
	assert.Equal(t, "2", r.Resolve("2"))
	assert.False(t, r.ConvertPendingAuth("2"))
}

func TestForgetKeepsOverrides(t *testing.T) {
	r := New()
	r.RecordOverride("1", nil)
	r.MarkAuthenticated("1")

	r.Forget("1")

	assert.True(t, r.HasOverride("1"))
	assert.False(t, r.ConvertPendingAuth("1"))
}
