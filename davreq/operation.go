package davreq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/davkit/davxml"
)

// Outcome is the terminal result of an Operation: success when Err is nil.
type Outcome struct {
	Result interface{}
	Err    error
}

func (o *Outcome) Success() bool {
	return o.Err == nil
}

// Bytes returns the body of a successful Get.
func (o *Outcome) Bytes() []byte {
	raw, _ := o.Result.([]byte)
	return raw
}

// Entries returns the entries of a successful Listing.
func (o *Outcome) Entries() []*davxml.Entry {
	ents, _ := o.Result.([]*davxml.Entry)
	return ents
}

// Observer receives the terminal outcome of an Operation exactly once.
type Observer interface {
	RequestFinished(op *Operation, o *Outcome)
}

// BeginObserver is optionally implemented by an Observer that wants to know
// when the request is handed to the transport.
type BeginObserver interface {
	RequestBegan(op *Operation)
}

type config struct {
	base           *url.URL
	cred           Credential
	allowUntrusted bool
	timeout        time.Duration
	transport      Transport
}

type Option func(c *config)

func WithBaseURL(u *url.URL) Option {
	return func(c *config) {
		c.base = u
	}
}

func WithCredential(user, pass string) Option {
	return func(c *config) {
		c.cred = Credential{Username: user, Password: pass}
	}
}

func WithAllowUntrustedCertificate(v bool) Option {
	return func(c *config) {
		c.allowUntrusted = v
	}
}

func WithTimeout(t time.Duration) Option {
	return func(c *config) {
		c.timeout = t
	}
}

func WithTransport(t Transport) Option {
	return func(c *config) {
		c.transport = t
	}
}

// Operation is one WebDAV verb applied to one path.
type Operation struct {
	id   string
	path string
	verb Verb
	ex   *exchange

	obsMu    sync.Mutex
	observer Observer
	obsSet   bool
	started  bool
	stopCtx  func() bool
}

func NewOperation(path string, verb Verb, opts ...Option) (*Operation, error) {
	if verb == nil {
		return nil, ErrIncompleteVerb
	}
	c := &config{
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.base == nil || !c.base.IsAbs() {
		return nil, fmt.Errorf("base url should be absolute")
	}
	if c.transport == nil {
		return nil, fmt.Errorf("no transport found")
	}
	op := &Operation{
		id:   uuid.NewString(),
		path: path,
		verb: verb,
	}
	target := &Target{Base: c.base, Path: path, Timeout: c.timeout}
	policy := &challengePolicy{cred: c.cred, allowUntrusted: c.allowUntrusted}
	op.ex = newExchange(target, verb, policy, c.transport, exchangeHooks{
		began:    op.notifyBegan,
		finished: op.notifyFinished,
	})
	return op, nil
}

func (op *Operation) ID() string {
	return op.id
}

func (op *Operation) Path() string {
	return op.path
}

func (op *Operation) Method() string {
	return op.verb.Method()
}

func (op *Operation) State() State {
	return op.ex.State()
}

func (op *Operation) IsExecuting() bool {
	return op.State() == StateExecuting
}

func (op *Operation) IsFinished() bool {
	return op.State() == StateFinished
}

func (op *Operation) IsCancelled() bool {
	return op.State() == StateCancelled
}

// SetObserver registers o. It may be called once, before Start.
func (op *Operation) SetObserver(o Observer) error {
	op.obsMu.Lock()
	defer op.obsMu.Unlock()
	if op.obsSet || op.State() != StateIdle {
		return &RequestError{Code: CodeInvalidState, Err: fmt.Errorf("observer already registered or operation started")}
	}
	op.observer = o
	op.obsSet = true
	return nil
}

// Detach drops the observer; a terminal outcome produced later is not
// delivered to it.
func (op *Operation) Detach() {
	op.obsMu.Lock()
	defer op.obsMu.Unlock()
	op.observer = nil
}

func (op *Operation) currentObserver() Observer {
	op.obsMu.Lock()
	defer op.obsMu.Unlock()
	return op.observer
}

// Start issues the request. Encoding failures are reported through the
// outcome; the returned error is only set when the operation already left
// the idle state. Cancelling ctx cancels the operation.
func (op *Operation) Start(ctx context.Context) error {
	op.obsMu.Lock()
	if op.started {
		op.obsMu.Unlock()
		return &RequestError{Code: CodeInvalidState, Err: fmt.Errorf("operation already started")}
	}
	op.started = true
	op.obsMu.Unlock()
	if err := op.ex.start(context.WithValue(ctx, opIDKey{}, op.id)); err != nil {
		return err
	}
	op.obsMu.Lock()
	op.stopCtx = context.AfterFunc(ctx, func() {
		op.CancelWithReason(ReasonContext)
	})
	op.obsMu.Unlock()
	if op.State().IsTerminal() {
		op.stopContextWatch()
	}
	return nil
}

func (op *Operation) Cancel() {
	op.CancelWithReason(ReasonDefault)
}

func (op *Operation) CancelWithReason(reason int) {
	op.ex.cancel(reason)
}

// Done is closed after the terminal outcome was delivered.
func (op *Operation) Done() <-chan struct{} {
	return op.ex.done
}

// Outcome returns the terminal outcome, or nil while not terminal.
func (op *Operation) Outcome() *Outcome {
	return op.ex.Outcome()
}

func (op *Operation) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-op.ex.done:
		return op.Outcome(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (op *Operation) stopContextWatch() {
	op.obsMu.Lock()
	stop := op.stopCtx
	op.obsMu.Unlock()
	if stop != nil {
		stop()
	}
}

func (op *Operation) notifyBegan() {
	if b, ok := op.currentObserver().(BeginObserver); ok {
		b.RequestBegan(op)
	}
}

func (op *Operation) notifyFinished(o *Outcome) {
	op.stopContextWatch()
	if obs := op.currentObserver(); obs != nil {
		obs.RequestFinished(op, o)
	}
}

type opIDKey struct{}

// OperationID returns the id of the operation whose Start received ctx.
func OperationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(opIDKey{}).(string)
	return v, ok
}

func asRequestError(err error, code ErrorCode) *RequestError {
	var re *RequestError
	if errors.As(err, &re) {
		return re
	}
	return newError(code, err)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(op *Operation, o *Outcome)

func (f ObserverFunc) RequestFinished(op *Operation, o *Outcome) {
	f(op, o)
}
