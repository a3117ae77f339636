package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"netbridge/pkg/domain"
)

type emitted struct {
	method string
	id     string
}

func newRecordingTracker() (*Tracker, *[]emitted) {
	var out []emitted
	t := NewTracker(func(method string, params any) {
		var id string
		switch p := params.(type) {
		case *domain.RequestWillBeSent:
			id = p.RequestID
		case *domain.ResponseReceived:
			id = p.RequestID
		case *domain.RequestFinished:
			id = p.RequestID
		case *domain.RequestFailed:
			id = p.RequestID
		}
		out = append(out, emitted{method, id})
	})
	return t, &out
}

func TestInOrderLifecycle(t *testing.T) {
	tr, out := newRecordingTracker()
	tr.OnRequest(&domain.RequestWillBeSent{RequestID: "1"})
	tr.OnResponse(&domain.ResponseReceived{RequestID: "1"})
	tr.OnFinished(&domain.RequestFinished{RequestID: "1"})

	assert.Equal(t, []emitted{
		{domain.EventRequestWillBeSent, "1"},
		{domain.EventResponseReceived, "1"},
		{domain.EventRequestFinished, "1"},
	}, *out)
	assert.Zero(t, tr.Len())
}

func TestOutOfOrderDataIsBuffered(t *testing.T) {
	tr, out := newRecordingTracker()
	tr.OnFinished(&domain.RequestFinished{RequestID: "1"})
	tr.OnResponse(&domain.ResponseReceived{RequestID: "1"})
	assert.Empty(t, *out)

	stage, ok := tr.Stage("1")
	assert.True(t, ok)
	assert.Equal(t, StageIdle, stage)

	tr.OnRequest(&domain.RequestWillBeSent{RequestID: "1"})
	assert.Equal(t, []emitted{
		{domain.EventRequestWillBeSent, "1"},
		{domain.EventResponseReceived, "1"},
		{domain.EventRequestFinished, "1"},
	}, *out)
}

func TestFailureShortCircuits(t *testing.T) {
	tr, out := newRecordingTracker()
	tr.OnRequest(&domain.RequestWillBeSent{RequestID: "1"})
	tr.OnFailed(&domain.RequestFailed{RequestID: "1", ErrorCode: "ABORTED"})
	tr.OnResponse(&domain.ResponseReceived{RequestID: "1"})

	assert.Equal(t, []emitted{
		{domain.EventRequestWillBeSent, "1"},
		{domain.EventRequestFailed, "1"},
	}, (*out)[:2])
	// 终态后记录被销毁，迟到的数据开启新记录
	assert.Len(t, *out, 2)
	stage, ok := tr.Stage("1")
	assert.True(t, ok)
	assert.Equal(t, StageIdle, stage)
}

func TestFailureWaitsForRequest(t *testing.T) {
	tr, out := newRecordingTracker()
	tr.OnFailed(&domain.RequestFailed{RequestID: "1"})
	assert.Empty(t, *out)

	tr.OnRequest(&domain.RequestWillBeSent{RequestID: "1"})
	assert.Equal(t, []emitted{
		{domain.EventRequestWillBeSent, "1"},
		{domain.EventRequestFailed, "1"},
	}, *out)
}

func TestFinishedAfterFailureIsIgnored(t *testing.T) {
	tr, out := newRecordingTracker()
	tr.OnRequest(&domain.RequestWillBeSent{RequestID: "1"})
	tr.OnResponse(&domain.ResponseReceived{RequestID: "1"})
	tr.OnFinished(&domain.RequestFinished{RequestID: "1"})
	tr.OnFailed(&domain.RequestFailed{RequestID: "1"})

	assert.Len(t, *out, 3)
}

func TestRedirectRetiresPredecessor(t *testing.T) {
	tr, out := newRecordingTracker()
	tr.OnRequest(&domain.RequestWillBeSent{RequestID: "1"})
	tr.OnResponse(&domain.ResponseReceived{RequestID: "1"})
	tr.OnRequest(&domain.RequestWillBeSent{RequestID: "2", RedirectedFrom: "1"})

	_, ok := tr.Stage("1")
	assert.False(t, ok)

	tr.OnFinished(&domain.RequestFinished{RequestID: "1"})
	tr.OnResponse(&domain.ResponseReceived{RequestID: "2"})
	tr.OnFinished(&domain.RequestFinished{RequestID: "2"})

	var terminal int
	for _, e := range *out {
		if e.method == domain.EventRequestFinished || e.method == domain.EventRequestFailed {
			terminal++
			assert.Equal(t, "2", e.id)
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestReset(t *testing.T) {
	tr, _ := newRecordingTracker()
	tr.OnRequest(&domain.RequestWillBeSent{RequestID: "1"})
	tr.Reset()
	assert.Zero(t, tr.Len())
}
