// Package natsmq implements mq.Client over nats.go, adapted from the
// pack's internal/nats_mq connection-option set (reconnect buffering,
// handler logging) but wired to the subject-based publish/subscribe
// shape EventPublisher needs instead of blocktx's protobuf topics.
package natsmq

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// Client is an mq.Client backed by a NATS connection.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Dial connects to a NATS server at url with the reconnect policy this
// module expects from a long-running synchronizer process.
func Dial(url string, logger *slog.Logger) (*Client, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "chromanode"
	}

	conn, err := nats.Connect(url,
		nats.Name(hostname),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectBufSize(8*1024*1024),
		nats.PingInterval(2*time.Minute),
		nats.MaxPingsOutstanding(2),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("nats connection error", slog.String("err", err.Error()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("nats disconnected", slog.String("err", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsmq: connect: %w", err)
	}

	return &Client{conn: conn, logger: logger}, nil
}

func (c *Client) Publish(channel string, payload []byte) error {
	if err := c.conn.Publish(channel, payload); err != nil {
		return fmt.Errorf("natsmq: publish %s: %w", channel, err)
	}
	return nil
}

func (c *Client) Listen(channel string, handler func(payload []byte)) error {
	_, err := c.conn.Subscribe(channel, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("natsmq: listen %s: %w", channel, err)
	}
	return nil
}

func (c *Client) Close() error {
	c.conn.Drain()
	return nil
}
