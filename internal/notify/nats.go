package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes each notification on <prefix>.<kind>
type NATSNotifier struct {
	conn   publisher
	prefix string
	close  func()
}

func NewNATSNotifier(url, prefix string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("settlement-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			zap.L().Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	n := newNATSNotifier(nc, prefix)
	n.close = func() {
		if err := nc.Drain(); err != nil {
			zap.L().Debug("NATS drain failed", zap.Error(err))
		}
	}
	return n, nil
}

func newNATSNotifier(conn publisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = "settlement.notifications"
	}
	return &NATSNotifier{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

func (n *NATSNotifier) Name() string { return "nats" }

func (n *NATSNotifier) Notify(ctx context.Context, notification Notification) error {
	body, err := encode(notification)
	if err != nil {
		return err
	}
	subject := n.prefix + "." + notification.Kind
	if err := n.conn.Publish(subject, body); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (n *NATSNotifier) Close() {
	if n.close != nil {
		n.close()
	}
}
