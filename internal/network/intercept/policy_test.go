package intercept

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

func TestAdmit(t *testing.T) {
	pausable := func() *traffic.Attempt {
		a := traffic.NewAttempt("1", "s")
		a.Interceptor = &mockInterceptor{}
		return a
	}
	worker := pausable()
	worker.ServiceWorker = true
	bare := traffic.NewAttempt("1", "s")

	tests := []struct {
		name       string
		attempt    *traffic.Attempt
		enabled    bool
		offline    bool
		isRedirect bool
		want       Decision
	}{
		{"disabled", pausable(), false, false, false, PassThrough},
		{"enabled", pausable(), true, false, false, Pause},
		{"redirect continuation", pausable(), true, false, true, Inert},
		{"redirect while disabled", pausable(), false, false, true, PassThrough},
		{"service worker", worker, true, false, false, PassThrough},
		{"not pausable", bare, true, false, false, PassThrough},
		{"offline", pausable(), true, true, false, AbortOffline},
		{"offline redirect", pausable(), true, true, true, AbortOffline},
		{"offline not pausable", bare, true, true, false, PassThrough},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Admit(tt.attempt, tt.enabled, tt.offline, tt.isRedirect)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecisionIntercepted(t *testing.T) {
	assert.True(t, Pause.Intercepted())
	assert.True(t, Inert.Intercepted())
	assert.False(t, PassThrough.Intercepted())
	assert.False(t, AbortOffline.Intercepted())
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, domain.ReasonAborted, ReasonFor("aborted"))
	assert.Equal(t, domain.ReasonUnknownHost, ReasonFor("NameNotResolved"))
	assert.Equal(t, domain.ReasonNetTimeout, ReasonFor("timedout"))
	assert.Equal(t, domain.ReasonOffline, ReasonFor("internetdisconnected"))
	assert.Equal(t, domain.ReasonFailure, ReasonFor("no-such-code"))
}
