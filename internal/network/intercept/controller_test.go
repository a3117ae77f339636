package intercept

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

type mockInterceptor struct {
	mock.Mock
}

func (m *mockInterceptor) Continue(ctx context.Context, o *traffic.Override) error {
	return m.Called(o).Error(0)
}

func (m *mockInterceptor) Fulfill(ctx context.Context, res *traffic.Response, body []byte) error {
	return m.Called(res, body).Error(0)
}

func (m *mockInterceptor) Fail(ctx context.Context, reason domain.CancelReason) error {
	return m.Called(reason).Error(0)
}

type recorder map[string]*traffic.Override

func (r recorder) RecordOverride(id string, o *traffic.Override) { r[id] = o }

func TestDispositionBeforeEnable(t *testing.T) {
	c := New("s", nil)
	_, err := c.Resume(context.Background(), "1", nil)
	assert.ErrorIs(t, err, domain.ErrInterceptionNotEnabled)
}

func TestResumeRecordsOverrideAndContinues(t *testing.T) {
	rec := recorder{}
	c := New("s", rec)
	c.Enable()

	it := &mockInterceptor{}
	override := &traffic.Override{Headers: traffic.Headers{{Name: "A", Value: "1"}}}
	it.On("Continue", override).Return(nil).Once()

	_, err := c.Intercept("1", it, false)
	require.NoError(t, err)
	assert.Equal(t, 1, c.PendingCount())

	req, err := c.Resume(context.Background(), "1", override)
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionResumed, req.Disposition)
	assert.Same(t, override, rec["1"])
	assert.Zero(t, c.PendingCount())
	it.AssertExpectations(t)
}

func TestInPlaceResumeSkipsRecording(t *testing.T) {
	rec := recorder{}
	c := New("s", rec)
	c.Enable()

	it := &mockInterceptor{}
	it.On("Continue", mock.Anything).Return(nil)
	_, err := c.Intercept("1", it, true)
	require.NoError(t, err)

	_, err = c.Resume(context.Background(), "1", &traffic.Override{})
	require.NoError(t, err)
	assert.Empty(t, rec)
}

func TestSecondDispositionFails(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		dispose func(c *Controller) error
	}{
		{"resume", func(c *Controller) error { _, err := c.Resume(ctx, "1", nil); return err }},
		{"fulfill", func(c *Controller) error { _, err := c.Fulfill(ctx, "1", traffic.NewResponse(), nil); return err }},
		{"abort", func(c *Controller) error { _, _, err := c.Abort(ctx, "1", "failed"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("s", recorder{})
			c.Enable()
			it := &mockInterceptor{}
			it.On("Continue", mock.Anything).Return(nil)
			it.On("Fulfill", mock.Anything, mock.Anything).Return(nil)
			it.On("Fail", mock.Anything).Return(nil)
			_, err := c.Intercept("1", it, false)
			require.NoError(t, err)

			require.NoError(t, tt.dispose(c))
			assert.ErrorIs(t, tt.dispose(c), domain.ErrRequestNotFound)
		})
	}
}

func TestDoubleInterceptFails(t *testing.T) {
	c := New("s", nil)
	c.Enable()
	_, err := c.Intercept("1", &mockInterceptor{}, false)
	require.NoError(t, err)
	_, err = c.Intercept("1", &mockInterceptor{}, false)
	assert.ErrorIs(t, err, domain.ErrAlreadyIntercepted)
}

func TestAbortMapsErrorCode(t *testing.T) {
	c := New("s", nil)
	c.Enable()
	it := &mockInterceptor{}
	it.On("Fail", domain.ReasonConnectionRefused).Return(nil).Once()
	_, err := c.Intercept("1", it, false)
	require.NoError(t, err)

	req, reason, err := c.Abort(context.Background(), "1", "ConnectionRefused")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonConnectionRefused, reason)
	assert.Equal(t, domain.DispositionAborted, req.Disposition)
	it.AssertExpectations(t)
}

func TestTransportErrorIsReported(t *testing.T) {
	c := New("s", nil)
	c.Enable()
	it := &mockInterceptor{}
	it.On("Fulfill", mock.Anything, mock.Anything).Return(errors.New("target closed"))
	_, err := c.Intercept("1", it, false)
	require.NoError(t, err)

	req, err := c.Fulfill(context.Background(), "1", traffic.NewResponse(), []byte("x"))
	require.NotNil(t, req)
	assert.ErrorIs(t, err, domain.ErrTransportCancelled)
}

func TestInertDispositionsAreNoops(t *testing.T) {
	rec := recorder{}
	c := New("s", rec)
	c.Enable()
	_, err := c.Intercept("1", nil, false)
	require.NoError(t, err)

	req, err := c.Resume(context.Background(), "1", &traffic.Override{})
	require.NoError(t, err)
	assert.True(t, req.Inert)
	assert.Empty(t, rec)
}

func TestDisableResumesPending(t *testing.T) {
	c := New("s", nil)
	c.Enable()
	a, b := &mockInterceptor{}, &mockInterceptor{}
	a.On("Continue", (*traffic.Override)(nil)).Return(nil).Once()
	b.On("Continue", (*traffic.Override)(nil)).Return(errors.New("gone")).Once()
	_, _ = c.Intercept("1", a, false)
	_, _ = c.Intercept("2", b, false)

	err := c.Disable(context.Background())
	assert.EqualError(t, err, "gone")
	assert.False(t, c.Enabled())
	a.AssertExpectations(t)
	b.AssertExpectations(t)

	_, err = c.Resume(context.Background(), "1", nil)
	assert.ErrorIs(t, err, domain.ErrInterceptionNotEnabled)
}

func TestDrop(t *testing.T) {
	c := New("s", nil)
	c.Enable()
	_, _ = c.Intercept("1", &mockInterceptor{}, false)
	assert.True(t, c.Drop("1"))
	assert.False(t, c.Drop("1"))
}
