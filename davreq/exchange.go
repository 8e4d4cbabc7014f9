package davreq

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type exchangeHooks struct {
	began    func()
	finished func(o *Outcome)
}

// exchange drives one request through idle -> executing -> finished or
// cancelled. State changes happen under mu so Cancel is synchronous for the
// caller; hooks and transport events run on queue. Only the transition into a
// terminal state schedules the finished hook, which makes it fire once.
type exchange struct {
	target    *Target
	verb      Verb
	policy    *challengePolicy
	transport Transport
	hooks     exchangeHooks
	queue     *serialQueue
	done      chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	state   State
	req     *WireRequest
	handle  Handle
	status  int
	body    bytes.Buffer
	outcome *Outcome
}

func newExchange(target *Target, verb Verb, policy *challengePolicy, tr Transport, hooks exchangeHooks) *exchange {
	return &exchange{
		target:    target,
		verb:      verb,
		policy:    policy,
		transport: tr,
		hooks:     hooks,
		queue:     newSerialQueue(),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		state:     StateIdle,
	}
}

func (e *exchange) logger() *zap.Logger {
	l := logutil.GetLogger(e.ctx)
	if id, ok := OperationID(e.ctx); ok {
		l = l.With(zap.String("op_id", id))
	}
	if e.req != nil {
		l = l.With(zap.String("method", e.req.Method), zap.String("url", e.req.URL.String()))
	}
	return l
}

func (e *exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *exchange) Outcome() *Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome
}

func (e *exchange) start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return &RequestError{Code: CodeInvalidState, Err: fmt.Errorf("start in state:%s", e.state)}
	}
	e.ctx = ctx
	if ctx.Err() != nil {
		e.finishLocked(StateCancelled, &Outcome{Err: &RequestError{Code: CodeCancelled, Reason: ReasonContext, Err: ctx.Err()}})
		return nil
	}
	req, err := e.verb.Encode(e.target)
	if err != nil {
		e.logger().Error("encode request failed", zap.String("verb", e.verb.Method()), zap.Error(err))
		e.finishLocked(StateFinished, &Outcome{Err: asRequestError(err, CodeMissingParameter)})
		return nil
	}
	e.req = req
	e.state = StateExecuting
	e.queue.post(e.hooks.began)
	handle, err := e.transport.Issue(context.WithoutCancel(ctx), req, e)
	if err != nil {
		e.logger().Error("issue request failed", zap.Error(err))
		e.finishLocked(StateFinished, &Outcome{Err: newError(CodeTransport, err)})
		return nil
	}
	e.handle = handle
	e.logger().Debug("request issued")
	return nil
}

func (e *exchange) cancel(reason int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.abortLocked(&RequestError{Code: CodeCancelled, Reason: reason})
}

// abortLocked moves a non terminal exchange to cancelled. A second call is a
// no-op.
func (e *exchange) abortLocked(err *RequestError) {
	switch e.state {
	case StateIdle:
	case StateExecuting:
		if e.handle != nil {
			e.handle.Cancel()
		}
	default:
		return
	}
	e.logger().Debug("request cancelled", zap.Error(err))
	e.finishLocked(StateCancelled, &Outcome{Err: err})
}

func (e *exchange) finishLocked(st State, o *Outcome) {
	e.state = st
	e.outcome = o
	e.body.Reset()
	e.queue.post(func() {
		e.hooks.finished(o)
		close(e.done)
	})
	e.queue.close()
}

func (e *exchange) OnChallenge(ch *Challenge, reply func(ChallengeAnswer)) {
	if ok := e.queue.post(func() { reply(e.handleChallenge(ch)) }); !ok {
		reply(ChallengeAnswer{Disposition: CancelChallenge})
	}
}

func (e *exchange) handleChallenge(ch *Challenge) ChallengeAnswer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateExecuting {
		return ChallengeAnswer{Disposition: CancelChallenge}
	}
	ans := e.policy.answer(ch)
	e.logger().Debug("answer auth challenge",
		zap.String("mechanism", string(ch.Space.Mechanism)),
		zap.String("realm", ch.Space.Realm),
		zap.Int("previous_failure_count", ch.PreviousFailureCount),
		zap.String("disposition", ans.Disposition.String()))
	return ans
}

func (e *exchange) OnResponse(status int, _ http.Header) {
	e.queue.post(func() { e.handleResponse(status) })
}

func (e *exchange) handleResponse(status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateExecuting {
		return
	}
	e.status = status
	if status >= http.StatusBadRequest {
		e.logger().Warn("request fast-fail on status", zap.Int("status", status))
		e.abortLocked(&RequestError{Code: CodeHTTPStatus, Status: status, Reason: status})
	}
}

func (e *exchange) OnData(p []byte) {
	chunk := append([]byte(nil), p...)
	e.queue.post(func() { e.handleData(chunk) })
}

func (e *exchange) handleData(chunk []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateExecuting || e.status >= http.StatusBadRequest {
		return
	}
	_, _ = e.body.Write(chunk)
}

func (e *exchange) OnComplete(err error) {
	e.queue.post(func() { e.handleComplete(err) })
}

func (e *exchange) handleComplete(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateExecuting {
		return
	}
	if err != nil {
		e.logger().Error("request failed", zap.Error(err))
		e.finishLocked(StateFinished, &Outcome{Err: newError(CodeTransport, err)})
		return
	}
	dec, ok := e.verb.(Decoder)
	if !ok {
		e.logger().Debug("request finished", zap.Int("status", e.status))
		e.finishLocked(StateFinished, &Outcome{})
		return
	}
	var body []byte
	if e.body.Len() > 0 {
		body = append([]byte(nil), e.body.Bytes()...)
	}
	res, err := dec.Decode(body)
	if err != nil {
		e.logger().Warn("decode response failed", zap.Int("body_size", len(body)), zap.Error(err))
		e.finishLocked(StateFinished, &Outcome{Err: newError(CodeDecode, err)})
		return
	}
	e.logger().Debug("request finished", zap.Int("status", e.status), zap.Int("body_size", len(body)))
	e.finishLocked(StateFinished, &Outcome{Result: res})
}
