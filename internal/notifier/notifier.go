// Package notifier marks accounts as changed and wakes every registered device.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amineprimesmr/myfidpass/internal/clock"
	"github.com/amineprimesmr/myfidpass/internal/push"
	"github.com/amineprimesmr/myfidpass/internal/registration"
)

// Report summarises one fan-out. Skipped counts registrations without a push token.
type Report struct {
	Skipped  int       `json:"skipped"`
	Sent     int       `json:"sent"`
	Failed   int       `json:"failed"`
	Pruned   int       `json:"pruned,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}

// Failure describes one unsuccessful send.
type Failure struct {
	DeviceID  string `json:"device_id"`
	Serial    string `json:"serial"`
	Transport string `json:"transport"`
	Permanent bool   `json:"permanent"`
	Reason    string `json:"reason"`
}

// Options tune a single NotifyChanged call.
type Options struct {
	Message string
}

// Option sets an Options field.
type Option func(*Options)

// WithMessage attaches a message for transports that can display one.
func WithMessage(message string) Option {
	return func(o *Options) { o.Message = message }
}

// ResolveOptions applies opts to the zero Options.
func ResolveOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AccountToucher moves last activity forward for a set of serials.
type AccountToucher interface {
	Touch(ctx context.Context, serials []string, at time.Time) error
}

// Registrations is the subset of the registration store the notifier uses.
type Registrations interface {
	ListForSerials(ctx context.Context, serials []string) ([]registration.Registration, error)
	Delete(ctx context.Context, key registration.Key) error
}

// Config bounds the fan-out.
type Config struct {
	Concurrency  int
	SendTimeout  time.Duration
	PruneInvalid bool
}

// Deps are the collaborators of a Notifier. OutcomeLog, Clock and Logger are optional.
type Deps struct {
	Accounts      AccountToucher
	Registrations Registrations
	Sender        push.Sender
	OutcomeLog    push.OutcomeLog
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Notifier implements NotifyChanged.
type Notifier struct {
	deps Deps
	cfg  Config
}

// New builds a Notifier, filling defaults for zero config values.
func New(deps Deps, cfg Config) *Notifier {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Notifier{deps: deps, cfg: cfg}
}

// NotifyChanged touches the accounts, then sends to every registration that
// has a push token. It never fails; problems are logged and reported.
func (n *Notifier) NotifyChanged(ctx context.Context, serials []string, opts ...Option) Report {
	var report Report
	if len(serials) == 0 {
		return report
	}
	options := ResolveOptions(opts...)
	logger := n.deps.Logger

	if err := n.deps.Accounts.Touch(ctx, serials, n.deps.Clock.Now()); err != nil {
		logger.Error("touch accounts", slog.Int("serials", len(serials)), slog.String("error", err.Error()))
	}

	regs, err := n.deps.Registrations.ListForSerials(ctx, serials)
	if err != nil {
		logger.Error("list registrations", slog.Int("serials", len(serials)), slog.String("error", err.Error()))
		return report
	}

	targets := make([]registration.Registration, 0, len(regs))
	for _, reg := range regs {
		if reg.PushToken == "" {
			report.Skipped++
			continue
		}
		targets = append(targets, reg)
	}

	outcomes := n.fanOut(ctx, targets, push.Payload{Message: options.Message})

	for i, outcome := range outcomes {
		if n.deps.OutcomeLog != nil {
			if err := n.deps.OutcomeLog.Record(ctx, outcome, n.deps.Clock.Now()); err != nil {
				logger.Warn("record push outcome", slog.String("serial", outcome.Serial), slog.String("error", err.Error()))
			}
		}
		if outcome.Success {
			report.Sent++
			continue
		}
		report.Failed++
		report.Failures = append(report.Failures, Failure{
			DeviceID:  outcome.Ref,
			Serial:    outcome.Serial,
			Transport: outcome.Transport,
			Permanent: outcome.Permanent,
			Reason:    errorString(outcome.Err),
		})
		if outcome.Permanent && n.cfg.PruneInvalid {
			if err := n.deps.Registrations.Delete(ctx, targets[i].Key()); err != nil {
				logger.Warn("prune registration", slog.String("device_id", outcome.Ref), slog.String("error", err.Error()))
				continue
			}
			report.Pruned++
		}
	}

	logger.Info("change fan-out",
		slog.Int("serials", len(serials)),
		slog.Int("skipped", report.Skipped),
		slog.Int("sent", report.Sent),
		slog.Int("failed", report.Failed),
		slog.Int("pruned", report.Pruned),
	)
	return report
}

// fanOut sends concurrently. The balance change is already committed, so
// sends outlive the caller's cancellation and only honour SendTimeout.
func (n *Notifier) fanOut(ctx context.Context, targets []registration.Registration, payload push.Payload) []push.Outcome {
	outcomes := make([]push.Outcome, len(targets))
	base := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(n.cfg.Concurrency)
	for i, reg := range targets {
		g.Go(func() error {
			target := push.Target{
				Kind:     reg.Transport,
				Token:    reg.PushToken,
				Topic:    reg.PassTypeID,
				DeviceID: reg.DeviceID,
				Serial:   reg.Serial,
			}
			sendCtx, cancel := context.WithTimeout(base, n.cfg.SendTimeout)
			defer cancel()
			outcomes[i] = n.send(sendCtx, target, payload)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// send returns when the transport does or when ctx expires, whichever is
// first. A panicking transport is reported as a failed outcome.
func (n *Notifier) send(ctx context.Context, target push.Target, payload push.Payload) push.Outcome {
	failed := func(err error) push.Outcome {
		return push.Outcome{Ref: target.DeviceID, Serial: target.Serial, Transport: target.Kind, Err: err}
	}

	done := make(chan push.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failed(fmt.Errorf("push panicked: %v", r))
			}
		}()
		done <- n.deps.Sender.Send(ctx, target, payload)
	}()

	select {
	case outcome := <-done:
		return outcome
	case <-ctx.Done():
		return failed(fmt.Errorf("push timed out: %w", ctx.Err()))
	}
}

func errorString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
