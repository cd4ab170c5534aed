package trace

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halverson/webtap/pkg/pipeline"
)

func testRequest(id string) *pipeline.Request {
	return &pipeline.Request{
		ID:     id,
		Method: http.MethodGet,
		URL:    "https://example.com/page",
		Header: http.Header{"Accept": []string{"text/html"}},
	}
}

func TestNewExchangeSnapshotsRequest(t *testing.T) {
	req := testRequest("ex-1")
	req.Body = []byte("payload")

	e := NewExchange(req, 0)

	assert.Equal(t, "ex-1", e.ID)
	assert.Equal(t, StateActive, e.State)
	require.NotNil(t, e.Request)
	assert.Equal(t, "GET", e.Request.Method)
	assert.Equal(t, "example.com", e.Request.Host)
	assert.Equal(t, "/page", e.Request.Path)
	assert.Equal(t, []byte("payload"), e.Request.Body)

	// The snapshot must not alias the live request.
	req.Header.Set("Accept", "changed")
	req.Body[0] = 'X'
	assert.Equal(t, "text/html", e.Request.Headers.Get("Accept"))
	assert.Equal(t, byte('p'), e.Request.Body[0])
}

func TestExchangeBodyCap(t *testing.T) {
	req := testRequest("ex-cap")
	req.Body = []byte("0123456789")

	e := NewExchange(req, 4)
	assert.Equal(t, []byte("0123"), e.Request.Body)
}

func TestCompleteSkipsStreamBodies(t *testing.T) {
	e := NewExchange(testRequest("ex-stream"), 0)
	resp := &pipeline.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       pipeline.StreamBody(nopReader{}),
	}
	e.Complete(resp, 0)

	assert.Equal(t, StateComplete, e.State)
	assert.True(t, e.Response.BodySkipped)
	assert.Nil(t, e.Response.Body)
}

func TestCompleteRecordsTags(t *testing.T) {
	e := NewExchange(testRequest("ex-tags"), 0)
	resp := &pipeline.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       pipeline.TextBody("<html></html>"),
		Tags:       []string{"title-marker"},
	}
	e.Complete(resp, 0)

	assert.Equal(t, []string{"title-marker"}, e.RewrittenBy)
	assert.Equal(t, []byte("<html></html>"), e.Response.Body)
	assert.False(t, e.Timestamps.Done.IsZero())
}

func TestFail(t *testing.T) {
	e := NewExchange(testRequest("ex-err"), 0)
	e.Fail(errors.New("dial tcp: refused"))

	assert.Equal(t, StateError, e.State)
	assert.Equal(t, "dial tcp: refused", e.Error)
}

func TestStoreAddAndGet(t *testing.T) {
	s := NewStore(10)
	e := NewExchange(testRequest("ex-1"), 0)
	s.Add(e)

	assert.Equal(t, 1, s.Count())
	assert.Same(t, e, s.Get("ex-1"))
	assert.Nil(t, s.Get("missing"))
}

func TestStoreEviction(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(NewExchange(testRequest(fmt.Sprintf("ex-%d", i)), 0))
	}

	assert.Equal(t, 3, s.Count())
	assert.Nil(t, s.Get("ex-0"))
	assert.Nil(t, s.Get("ex-1"))

	all := s.All()
	require.Len(t, all, 3)
	assert.Equal(t, "ex-2", all[0].ID)
	assert.Equal(t, "ex-4", all[2].ID)
}

func TestStoreClear(t *testing.T) {
	s := NewStore(10)
	s.Add(NewExchange(testRequest("ex-1"), 0))
	s.Clear()

	assert.Equal(t, 0, s.Count())
	assert.Nil(t, s.Get("ex-1"))
	assert.Nil(t, s.All())
}

func TestStoreSubscribe(t *testing.T) {
	s := NewStore(10)
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	e := NewExchange(testRequest("ex-1"), 0)
	s.Add(e)
	e.Complete(&pipeline.Response{StatusCode: 200, Header: http.Header{}}, 0)
	s.Update(e, EventComplete)

	evt := <-ch
	assert.Equal(t, EventNew, evt.Type)
	assert.Same(t, e, evt.Exchange)

	evt = <-ch
	assert.Equal(t, EventComplete, evt.Type)
}

func TestStoreUnsubscribeCloses(t *testing.T) {
	s := NewStore(10)
	ch := s.Subscribe()
	s.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

type nopReader struct{}

func (nopReader) Read(p []byte) (int, error) { return 0, nil }
func (nopReader) Close() error               { return nil }
