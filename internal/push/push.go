// Package push delivers wake-up notifications over APNs and Web Push behind a
// single Send contract.
package push

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Transport kinds. They match the transport column of device registrations.
const (
	KindAPNs    = "apns"
	KindWebPush = "webpush"
)

var (
	// ErrPermanent marks failures where the push token is no longer valid.
	ErrPermanent = errors.New("push token rejected")
	// ErrTransient marks failures worth retrying later.
	ErrTransient = errors.New("transient push failure")
	// ErrUnavailable marks sends through a transport that could not be configured.
	ErrUnavailable = errors.New("push transport unavailable")
)

// Target identifies one device to wake up.
type Target struct {
	Kind     string
	Token    string
	Topic    string
	DeviceID string
	Serial   string
}

// Payload is empty for wallet pushes. Browser pushes may carry a short message.
type Payload struct {
	Message string
}

// Outcome is the result of one send.
type Outcome struct {
	Ref       string
	Serial    string
	Transport string
	Success   bool
	Permanent bool
	Err       error
}

// Transport sends to a single device. Errors should be marked with
// ErrPermanent or ErrTransient.
type Transport interface {
	Send(ctx context.Context, target Target, payload Payload) error
}

// Sender is implemented by Dispatcher.
type Sender interface {
	Send(ctx context.Context, target Target, payload Payload) Outcome
}

// Dispatcher routes each target to the transport registered for its kind.
type Dispatcher struct {
	transports map[string]Transport
}

// NewDispatcher builds a dispatcher from kind to transport.
func NewDispatcher(transports map[string]Transport) *Dispatcher {
	m := make(map[string]Transport, len(transports))
	for kind, t := range transports {
		m[kind] = t
	}
	return &Dispatcher{transports: m}
}

// Send never panics on unknown kinds; they fail as unavailable.
func (d *Dispatcher) Send(ctx context.Context, target Target, payload Payload) Outcome {
	outcome := Outcome{Ref: target.DeviceID, Serial: target.Serial, Transport: target.Kind}

	transport, ok := d.transports[target.Kind]
	if !ok {
		transport = Unavailable{Kind: target.Kind, Reason: "no transport registered"}
	}
	if err := transport.Send(ctx, target, payload); err != nil {
		outcome.Err = err
		outcome.Permanent = IsPermanent(err)
		return outcome
	}
	outcome.Success = true
	return outcome
}

// IsPermanent reports whether err means the push token should be discarded.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Unavailable is the transport returned when configuration is missing or
// invalid. Every send fails transiently with Reason.
type Unavailable struct {
	Kind   string
	Reason string
}

// Send always fails.
func (u Unavailable) Send(context.Context, Target, Payload) error {
	err := errors.Newf("%s: %s", u.Kind, u.Reason)
	return errors.Mark(errors.Mark(err, ErrUnavailable), ErrTransient)
}

func permanent(err error) error {
	return errors.Mark(err, ErrPermanent)
}

func transient(err error) error {
	return errors.Mark(err, ErrTransient)
}

// classify maps an HTTP status to a marked error. permanentReason reports
// whether a 400 body names a dead token.
func classify(kind string, status int, reason string, permanentReason func(string) bool) error {
	err := errors.Newf("%s push rejected: %d %s", kind, status, reason)
	switch {
	case status == http.StatusGone:
		return permanent(err)
	case status == http.StatusNotFound && kind == KindWebPush:
		return permanent(err)
	case status == http.StatusBadRequest && permanentReason != nil && permanentReason(reason):
		return permanent(err)
	default:
		// 429, 5xx and configuration errors leave the token intact.
		return transient(err)
	}
}

// String is used in logs and push log entries.
func (o Outcome) String() string {
	switch {
	case o.Success:
		return fmt.Sprintf("%s %s sent", o.Transport, o.Ref)
	case o.Permanent:
		return fmt.Sprintf("%s %s permanent failure: %v", o.Transport, o.Ref, o.Err)
	default:
		return fmt.Sprintf("%s %s failed: %v", o.Transport, o.Ref, o.Err)
	}
}
