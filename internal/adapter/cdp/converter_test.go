package cdp

import (
	"testing"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

func TestToHeaders(t *testing.T) {
	h := ToHeaders(network.Headers(`{"b":"2","A":"1","Set-Cookie":"x=1\ny=2"}`))
	assert.Equal(t, traffic.Headers{
		{Name: "A", Value: "1"},
		{Name: "Set-Cookie", Value: "x=1"},
		{Name: "Set-Cookie", Value: "y=2"},
		{Name: "b", Value: "2"},
	}, h)

	assert.Empty(t, ToHeaders(nil))
	assert.Empty(t, ToHeaders(network.Headers(`not json`)))
}

func TestToAttempt(t *testing.T) {
	post := "a=1"
	req := network.Request{
		URL:      "https://example.com/",
		Method:   "POST",
		Headers:  network.Headers(`{"Content-Type":"application/x-www-form-urlencoded"}`),
		PostData: &post,
	}

	a := ToAttempt(req, RequestInfo{
		ID: "7", Scope: "page", TargetFrame: "F1", FrameID: "F1",
		ResourceType: network.ResourceTypeDocument,
	})
	assert.Equal(t, "7", a.ID)
	assert.Equal(t, domain.ScopeID("page"), a.Scope)
	assert.Equal(t, "POST", a.Method)
	assert.Equal(t, []byte("a=1"), a.PostData)
	assert.Equal(t, "application/x-www-form-urlencoded", a.Headers.Get("content-type"))
	assert.True(t, a.IsMainDocument)
	assert.Equal(t, "TYPE_DOCUMENT", a.Cause)

	sub := ToAttempt(req, RequestInfo{ID: "8", TargetFrame: "F1", FrameID: "F2", ResourceType: network.ResourceTypeDocument})
	assert.False(t, sub.IsMainDocument)
	assert.Equal(t, "TYPE_SUBDOCUMENT", sub.Cause)

	img := ToAttempt(network.Request{URL: "https://example.com/a.png"}, RequestInfo{ID: "9", ResourceType: network.ResourceTypeImage})
	assert.Equal(t, "GET", img.Method)
	assert.Nil(t, img.PostData)
	assert.Equal(t, "TYPE_IMAGE", img.Cause)
}

func TestCauseFor(t *testing.T) {
	assert.Equal(t, "TYPE_XMLHTTPREQUEST", CauseFor(network.ResourceTypeXHR, true))
	assert.Equal(t, "TYPE_OTHER", CauseFor(network.ResourceTypeOther, true))
	assert.Equal(t, "TYPE_OTHER", CauseFor(network.ResourceType("Unknown"), false))
}

func TestToResponse(t *testing.T) {
	ip, port, yes := "10.0.0.1", 443, true
	r := network.Response{
		Status:          200,
		StatusText:      "OK",
		Headers:         network.Headers(`{"Content-Type":"text/html"}`),
		RemoteIPAddress: &ip,
		RemotePort:      &port,
		SecurityDetails: &network.SecurityDetails{
			Protocol:    "TLS 1.3",
			SubjectName: "example.com",
			Issuer:      "CA",
			ValidFrom:   network.TimeSinceEpoch(100),
			ValidTo:     network.TimeSinceEpoch(200),
		},
	}
	res := ToResponse(r)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "10.0.0.1", res.RemoteIPAddress)
	assert.Equal(t, 443, res.RemotePort)
	require.NotNil(t, res.SecurityDetails)
	assert.Equal(t, "TLS 1.3", res.SecurityDetails.Protocol)
	assert.Equal(t, 200.0, res.SecurityDetails.ValidTo)

	assert.Equal(t, traffic.KindResponse, ResponseKind(r, false))
	assert.Equal(t, traffic.KindCachedResponse, ResponseKind(r, true))
	r.FromDiskCache = &yes
	assert.Equal(t, traffic.KindCachedResponse, ResponseKind(r, false))
	r.FromDiskCache = nil
	r.FromPrefetchCache = &yes
	assert.Equal(t, traffic.KindMergedResponse, ResponseKind(r, false))
}

func TestIsInternalRedirect(t *testing.T) {
	assert.False(t, IsInternalRedirect(nil))
	assert.False(t, IsInternalRedirect(&network.Response{Status: 302, Headers: network.Headers(`{"Location":"/x"}`)}))
	assert.True(t, IsInternalRedirect(&network.Response{Status: 307, Headers: network.Headers(`{"Non-Authoritative-Reason":"HSTS"}`)}))
}

func TestErrorReasonFor(t *testing.T) {
	tests := []struct {
		reason domain.CancelReason
		want   network.ErrorReason
	}{
		{domain.ReasonAborted, network.ErrorReasonAborted},
		{domain.ReasonUnknownHost, network.ErrorReasonNameNotResolved},
		{domain.ReasonOffline, network.ErrorReasonInternetDisconnected},
		{domain.ReasonNetTimeout, network.ErrorReasonTimedOut},
		{domain.CancelReason("BOGUS"), network.ErrorReasonFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorReasonFor(tt.reason))
		})
	}
}

func TestHeaderEntriesAndAuth(t *testing.T) {
	entries := ToHeaderEntries(traffic.Headers{{Name: "X-A", Value: "1"}, {Name: "X-A", Value: "2"}})
	assert.Equal(t, []fetch.HeaderEntry{{Name: "X-A", Value: "1"}, {Name: "X-A", Value: "2"}}, entries)

	cancel := AuthResponse(nil, "CancelAuth")
	assert.Equal(t, "CancelAuth", cancel.Response)
	assert.Nil(t, cancel.Username)

	provide := AuthResponse(&domain.Credentials{Username: "u", Password: "p"}, "CancelAuth")
	assert.Equal(t, "ProvideCredentials", provide.Response)
	require.NotNil(t, provide.Password)
	assert.Equal(t, "p", *provide.Password)
}
