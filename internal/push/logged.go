package push

import (
	"context"
	"log/slog"
)

// Logged wraps a transport and writes every send to the structured logger.
func Logged(next Transport, logger *slog.Logger) Transport {
	if logger == nil {
		return next
	}
	return &loggedTransport{next: next, logger: logger}
}

type loggedTransport struct {
	next   Transport
	logger *slog.Logger
}

func (l *loggedTransport) Send(ctx context.Context, target Target, payload Payload) error {
	err := l.next.Send(ctx, target, payload)
	attrs := []any{
		slog.String("transport", target.Kind),
		slog.String("device_id", target.DeviceID),
		slog.String("serial", target.Serial),
	}
	if err != nil {
		l.logger.Warn("push failed", append(attrs, slog.Bool("permanent", IsPermanent(err)), slog.String("error", err.Error()))...)
		return err
	}
	l.logger.Debug("push sent", attrs...)
	return nil
}
