package davreq

import (
	"context"
	"crypto/x509"
	"net/http"
	"net/url"
	"time"
)

// WireRequest is the encoded form of one verb, ready to be issued.
type WireRequest struct {
	Method  string
	URL     *url.URL
	Header  http.Header
	Body    []byte
	Timeout time.Duration
	NoCache bool
}

type Mechanism string

const (
	MechanismDefault     Mechanism = "default"
	MechanismBasic       Mechanism = "basic"
	MechanismDigest      Mechanism = "digest"
	MechanismServerTrust Mechanism = "server_trust"
)

// ProtectionSpace identifies what a challenge is scoped to.
type ProtectionSpace struct {
	Host      string
	Realm     string
	Mechanism Mechanism
	// Certificates is the chain offered by the server, server-trust only.
	Certificates []*x509.Certificate
}

type Challenge struct {
	Space                ProtectionSpace
	PreviousFailureCount int
}

type Disposition int

const (
	UseCredential Disposition = iota + 1
	PerformDefaultHandling
	CancelChallenge
	RejectProtectionSpace
)

func (d Disposition) String() string {
	switch d {
	case UseCredential:
		return "use_credential"
	case PerformDefaultHandling:
		return "perform_default_handling"
	case CancelChallenge:
		return "cancel_challenge"
	case RejectProtectionSpace:
		return "reject_protection_space"
	default:
		return "unknown"
	}
}

// ChallengeCredential answers a challenge. Password challenges read
// Username/Password, server-trust challenges read Trust.
type ChallengeCredential struct {
	Username string
	Password string
	Trust    []*x509.Certificate
}

type ChallengeAnswer struct {
	Disposition Disposition
	Credential  *ChallengeCredential
}

// EventSink receives the events of one issued request. A transport delivers
// zero or more challenges, one response, zero or more data chunks and
// exactly one completion, in that order. reply must be called exactly once
// per challenge.
type EventSink interface {
	OnChallenge(ch *Challenge, reply func(ChallengeAnswer))
	OnResponse(status int, header http.Header)
	OnData(p []byte)
	OnComplete(err error)
}

type Handle interface {
	Cancel()
}

// Transport issues wire requests. Issue must return without waiting on the
// sink; events are delivered from the transport's own goroutines.
type Transport interface {
	Issue(ctx context.Context, req *WireRequest, sink EventSink) (Handle, error)
}
