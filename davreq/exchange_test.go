package davreq

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/davkit/davxml"
)

const testMultistatus = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/docs/</D:href>
    <D:propstat>
      <D:prop><D:displayname>docs</D:displayname><D:resourcetype><D:collection/></D:resourcetype></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/docs/readme.txt</D:href>
    <D:propstat>
      <D:prop><D:getcontentlength>5</D:getcontentlength><D:resourcetype/></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

func playResponse(status int, chunks ...string) scriptFunc {
	return func(req *WireRequest, sink EventSink, h *fakeHandle) {
		sink.OnResponse(status, http.Header{})
		for _, c := range chunks {
			sink.OnData([]byte(c))
		}
		sink.OnComplete(nil)
	}
}

func TestGetEndToEnd(t *testing.T) {
	tr := &fakeTransport{script: playResponse(http.StatusOK, "Hel", "lo")}
	op, obs := newTestOperation(t, tr, "/docs/readme.txt", Get{})
	require.NoError(t, op.Start(context.Background()))
	o := waitOutcome(t, op)
	require.NoError(t, o.Err)
	assert.Equal(t, []byte("Hello"), o.Bytes())
	assert.Equal(t, StateFinished, op.State())
	assert.True(t, op.IsFinished())
	assert.False(t, op.IsCancelled())
	assert.False(t, op.IsExecuting())
	assert.Equal(t, 1, obs.count())
	assert.Equal(t, int32(1), obs.began.Load())
	assert.Equal(t, "https://dav.example.com/docs/readme.txt", tr.lastRequest().URL.String())
}

func TestListingEndToEnd(t *testing.T) {
	tr := &fakeTransport{script: playResponse(207, testMultistatus[:100], testMultistatus[100:])}
	op, obs := newTestOperation(t, tr, "/docs/", Listing{Depth: 1})
	require.NoError(t, op.Start(context.Background()))
	o := waitOutcome(t, op)
	require.NoError(t, o.Err)
	ents := o.Entries()
	require.Len(t, ents, 2)
	assert.Equal(t, "/docs/", ents[0].Path)
	assert.True(t, ents[0].Collection)
	assert.Equal(t, "docs", ents[0].DisplayName)
	assert.Equal(t, "/docs/readme.txt", ents[1].Path)
	assert.False(t, ents[1].Collection)
	assert.Equal(t, int64(5), ents[1].ContentLength)
	assert.Equal(t, 1, obs.count())
	assert.Equal(t, "1", tr.lastRequest().Header.Get("Depth"))
}

func TestListingMalformed(t *testing.T) {
	tr := &fakeTransport{script: playResponse(207, "<D:multistatus xmlns:D=\"DAV:\"><D:response>")}
	op, _ := newTestOperation(t, tr, "/docs/", Listing{Depth: 1})
	require.NoError(t, op.Start(context.Background()))
	o := waitOutcome(t, op)
	assert.True(t, errors.Is(o.Err, ErrDecode))
	assert.False(t, errors.Is(o.Err, ErrTransport))
	assert.Equal(t, StateFinished, op.State())
}

func TestListingCustomParser(t *testing.T) {
	tr := &fakeTransport{script: playResponse(207, "anything")}
	parser := func(data []byte) ([]*davxml.Entry, error) {
		return []*davxml.Entry{{Path: string(data)}}, nil
	}
	op, _ := newTestOperation(t, tr, "/", Listing{Depth: 0, Parser: parser})
	require.NoError(t, op.Start(context.Background()))
	o := waitOutcome(t, op)
	require.NoError(t, o.Err)
	require.Len(t, o.Entries(), 1)
	assert.Equal(t, "anything", o.Entries()[0].Path)
}

func TestNoPayloadVerbs(t *testing.T) {
	verbs := []Verb{Delete{}, Mkcol{}, Put{Data: []byte("x")}, Copy{Destination: "/b"}, Move{Destination: "/b"}}
	for _, v := range verbs {
		tr := &fakeTransport{script: playResponse(http.StatusCreated, "ignored body")}
		op, obs := newTestOperation(t, tr, "/a", v)
		require.NoError(t, op.Start(context.Background()))
		o := waitOutcome(t, op)
		assert.NoError(t, o.Err, "verb:%s", v.Method())
		assert.True(t, o.Success())
		assert.Nil(t, o.Result)
		assert.Equal(t, 1, obs.count())
	}
}

func TestStatusFastFail(t *testing.T) {
	for _, status := range []int{400, 401, 404, 409, 500, 507, 599} {
		release := make(chan struct{})
		tr := &fakeTransport{script: func(req *WireRequest, sink EventSink, h *fakeHandle) {
			sink.OnResponse(status, http.Header{})
			sink.OnData([]byte("error page"))
			<-release
			sink.OnData([]byte("more"))
			sink.OnComplete(nil)
		}}
		op, obs := newTestOperation(t, tr, "/docs/readme.txt", Get{})
		require.NoError(t, op.Start(context.Background()))
		o := waitOutcome(t, op)
		close(release)
		require.Error(t, o.Err)
		assert.True(t, errors.Is(o.Err, ErrHTTPStatus))
		assert.Equal(t, status, StatusOf(o.Err))
		assert.Nil(t, o.Result)
		assert.Equal(t, StateCancelled, op.State())
		assert.Equal(t, int32(1), tr.lastHandle().cancelled.Load())
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, obs.count())
	}
}

func TestPutWithoutBody(t *testing.T) {
	tr := &fakeTransport{}
	op, obs := newTestOperation(t, tr, "/docs/a.txt", Put{})
	require.NoError(t, op.Start(context.Background()))
	o := waitOutcome(t, op)
	assert.True(t, errors.Is(o.Err, ErrMissingParameter))
	assert.Equal(t, 0, tr.issueCount())
	assert.Equal(t, StateFinished, op.State())
	assert.Equal(t, 1, obs.count())
	assert.Equal(t, int32(0), obs.began.Load())
}

func TestCopyWithoutDestination(t *testing.T) {
	tr := &fakeTransport{}
	op, _ := newTestOperation(t, tr, "/a", Copy{Overwrite: true})
	require.NoError(t, op.Start(context.Background()))
	o := waitOutcome(t, op)
	assert.True(t, errors.Is(o.Err, ErrMissingParameter))
	assert.Equal(t, 0, tr.issueCount())
}

func TestIssueFailure(t *testing.T) {
	tr := &fakeTransport{err: fmt.Errorf("dial refused")}
	op, obs := newTestOperation(t, tr, "/a", Get{})
	require.NoError(t, op.Start(context.Background()))
	o := waitOutcome(t, op)
	assert.True(t, errors.Is(o.Err, ErrTransport))
	assert.Equal(t, StateFinished, op.State())
	assert.Equal(t, 1, obs.count())
}

func TestTransportError(t *testing.T) {
	tr := &fakeTransport{script: func(req *WireRequest, sink EventSink, h *fakeHandle) {
		sink.OnResponse(http.StatusOK, http.Header{})
		sink.OnData([]byte("partial"))
		sink.OnComplete(context.DeadlineExceeded)
	}}
	op, _ := newTestOperation(t, tr, "/a", Get{})
	require.NoError(t, op.Start(context.Background()))
	o := waitOutcome(t, op)
	assert.True(t, errors.Is(o.Err, ErrTransport))
	assert.True(t, errors.Is(o.Err, context.DeadlineExceeded))
	assert.Nil(t, o.Bytes())
}

func TestCancelBeforeStart(t *testing.T) {
	tr := &fakeTransport{}
	op, obs := newTestOperation(t, tr, "/a", Get{})
	op.Cancel()
	assert.Equal(t, StateCancelled, op.State())
	o := waitOutcome(t, op)
	assert.True(t, errors.Is(o.Err, ErrCancelled))
	var re *RequestError
	require.True(t, errors.As(o.Err, &re))
	assert.Equal(t, ReasonDefault, re.Reason)

	err := op.Start(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, 0, tr.issueCount())
	op.Cancel()
	assert.Equal(t, 1, obs.count())
}

func TestStartTwice(t *testing.T) {
	tr := &fakeTransport{}
	op, _ := newTestOperation(t, tr, "/a", Get{})
	require.NoError(t, op.Start(context.Background()))
	assert.Equal(t, StateExecuting, op.State())
	err := op.Start(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, 1, tr.issueCount())
	op.Cancel()
	waitOutcome(t, op)
}

func TestCancelWhileExecuting(t *testing.T) {
	tr := &fakeTransport{}
	op, obs := newTestOperation(t, tr, "/a", Get{})
	require.NoError(t, op.Start(context.Background()))
	op.CancelWithReason(42)
	assert.Equal(t, StateCancelled, op.State())
	assert.Equal(t, int32(1), tr.lastHandle().cancelled.Load())

	// late transport events are ignored
	sink := tr.lastSink()
	sink.OnResponse(http.StatusOK, http.Header{})
	sink.OnData([]byte("late"))
	sink.OnComplete(nil)
	op.Cancel()

	o := waitOutcome(t, op)
	var re *RequestError
	require.True(t, errors.As(o.Err, &re))
	assert.Equal(t, CodeCancelled, re.Code)
	assert.Equal(t, 42, re.Reason)
	assert.Equal(t, StateCancelled, op.State())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, obs.count())
	assert.Equal(t, int32(1), tr.lastHandle().cancelled.Load())
}

func TestContextCancel(t *testing.T) {
	tr := &fakeTransport{}
	op, _ := newTestOperation(t, tr, "/a", Get{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, op.Start(ctx))
	cancel()
	o := waitOutcome(t, op)
	var re *RequestError
	require.True(t, errors.As(o.Err, &re))
	assert.Equal(t, CodeCancelled, re.Code)
	assert.Equal(t, ReasonContext, re.Reason)
}

func TestStartWithDoneContext(t *testing.T) {
	tr := &fakeTransport{}
	op, obs := newTestOperation(t, tr, "/a", Get{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, op.Start(ctx))
	assert.True(t, op.IsCancelled())
	o := waitOutcome(t, op)
	var re *RequestError
	require.True(t, errors.As(o.Err, &re))
	assert.Equal(t, ReasonContext, re.Reason)
	assert.True(t, errors.Is(o.Err, context.Canceled))
	assert.Equal(t, 0, tr.issueCount())
	assert.Equal(t, 1, obs.count())
	assert.Equal(t, int32(0), obs.began.Load())
}

func TestDetachDropsNotification(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTransport{script: func(req *WireRequest, sink EventSink, h *fakeHandle) {
		<-release
		playResponse(http.StatusOK, "x")(req, sink, h)
	}}
	op, obs := newTestOperation(t, tr, "/a", Get{})
	require.NoError(t, op.Start(context.Background()))
	op.Detach()
	close(release)
	o := waitOutcome(t, op)
	assert.NoError(t, o.Err)
	assert.Equal(t, 0, obs.count())
}

func TestObserverRegistration(t *testing.T) {
	tr := &fakeTransport{}
	op, _ := newTestOperation(t, tr, "/a", Get{})
	err := op.SetObserver(ObserverFunc(func(op *Operation, o *Outcome) {}))
	assert.True(t, errors.Is(err, ErrInvalidState))

	op2, err := NewOperation("/a", Get{}, WithBaseURL(mustParseURL(t, testBaseURL)), WithTransport(tr))
	require.NoError(t, err)
	require.NoError(t, op2.Start(context.Background()))
	err = op2.SetObserver(ObserverFunc(func(op *Operation, o *Outcome) {}))
	assert.True(t, errors.Is(err, ErrInvalidState))
	op2.Cancel()
}

func TestNewOperationValidation(t *testing.T) {
	tr := &fakeTransport{}
	_, err := NewOperation("/a", nil, WithBaseURL(mustParseURL(t, testBaseURL)), WithTransport(tr))
	assert.True(t, errors.Is(err, ErrIncompleteVerb))
	_, err = NewOperation("/a", Get{}, WithBaseURL(mustParseURL(t, "/relative")), WithTransport(tr))
	assert.Error(t, err)
	_, err = NewOperation("/a", Get{}, WithBaseURL(mustParseURL(t, testBaseURL)))
	assert.Error(t, err)
}

func TestChallengeThroughExchange(t *testing.T) {
	answers := make(chan ChallengeAnswer, 2)
	tr := &fakeTransport{script: func(req *WireRequest, sink EventSink, h *fakeHandle) {
		for i := 0; i < 2; i++ {
			done := make(chan struct{})
			sink.OnChallenge(&Challenge{
				Space:                ProtectionSpace{Host: "dav.example.com", Realm: "dav", Mechanism: MechanismBasic},
				PreviousFailureCount: i,
			}, func(a ChallengeAnswer) {
				answers <- a
				close(done)
			})
			<-done
		}
		playResponse(http.StatusOK, "ok")(req, sink, h)
	}}
	op, _ := newTestOperation(t, tr, "/a", Get{})
	require.NoError(t, op.Start(context.Background()))
	o := waitOutcome(t, op)
	require.NoError(t, o.Err)
	first := <-answers
	assert.Equal(t, UseCredential, first.Disposition)
	require.NotNil(t, first.Credential)
	assert.Equal(t, "alice", first.Credential.Username)
	assert.Equal(t, "secret", first.Credential.Password)
	second := <-answers
	assert.Equal(t, CancelChallenge, second.Disposition)
	assert.Nil(t, second.Credential)
}

func TestChallengeAfterTerminal(t *testing.T) {
	tr := &fakeTransport{}
	op, _ := newTestOperation(t, tr, "/a", Get{})
	require.NoError(t, op.Start(context.Background()))
	op.Cancel()
	waitOutcome(t, op)
	got := make(chan ChallengeAnswer, 1)
	tr.lastSink().OnChallenge(&Challenge{Space: ProtectionSpace{Mechanism: MechanismBasic}}, func(a ChallengeAnswer) {
		got <- a
	})
	select {
	case a := <-got:
		assert.Equal(t, CancelChallenge, a.Disposition)
	case <-time.After(time.Second):
		t.Fatal("challenge not answered")
	}
}

// TestRandomInterleaving fires random transport events concurrently with
// caller cancels and checks the single terminal notification.
func TestRandomInterleaving(t *testing.T) {
	const rounds = 300
	for i := 0; i < rounds; i++ {
		tr := &fakeTransport{}
		op, obs := newTestOperation(t, tr, "/a", Get{})
		cancelFirst := rand.IntN(10) == 0
		if cancelFirst {
			op.Cancel()
		}
		_ = op.Start(context.Background())

		var wg sync.WaitGroup
		if !cancelFirst {
			sink := tr.lastSink()
			wg.Add(1)
			go func() {
				defer wg.Done()
				status := []int{200, 207, 404, 500}[rand.IntN(4)]
				n := rand.IntN(6)
				for k := 0; k < n; k++ {
					switch rand.IntN(4) {
					case 0:
						sink.OnChallenge(&Challenge{Space: ProtectionSpace{Mechanism: MechanismDigest}, PreviousFailureCount: rand.IntN(2)}, func(ChallengeAnswer) {})
					case 1:
						sink.OnResponse(status, http.Header{})
					default:
						sink.OnData([]byte{byte(k)})
					}
				}
				if rand.IntN(2) == 0 {
					sink.OnComplete(nil)
				} else {
					sink.OnComplete(fmt.Errorf("broken pipe"))
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rand.IntN(2) == 0 {
				time.Sleep(time.Duration(rand.IntN(200)) * time.Microsecond)
				op.Cancel()
			}
		}()
		wg.Wait()
		op.Cancel()

		o := waitOutcome(t, op)
		st := op.State()
		require.True(t, st.IsTerminal())
		require.Equal(t, 1, obs.count(), "round:%d", i)
		switch st {
		case StateCancelled:
			assert.True(t, errors.Is(o.Err, ErrCancelled) || errors.Is(o.Err, ErrHTTPStatus))
		case StateFinished:
			assert.False(t, errors.Is(o.Err, ErrCancelled))
		}
	}
}
