package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-zeromq/zmq4"

	"github.com/thehobbit85/chromanode/internal/chain"
)

// ZMQSource implements EventSource over a bitcoind-compatible node's
// ZMQ publisher. Bitcoind ZMQ messages are three-part: topic, body,
// sequence number; hashtx/hashblock bodies are the raw 32-byte id in
// internal (not display) byte order.
type ZMQSource struct {
	sock   zmq4.Socket
	logger *slog.Logger
	cancel context.CancelFunc

	dispatchOnce sync.Once
	onHashTx     func(chain.Hash)
	onHashBlock  func()
}

// DialZMQ connects to a bitcoind ZMQ publisher at addr (e.g.
// "tcp://127.0.0.1:28332").
func DialZMQ(addr string, logger *slog.Logger) (*ZMQSource, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewSub(ctx, zmq4.WithAutomaticReconnect(true))

	if err := sock.Dial(addr); err != nil {
		cancel()
		return nil, fmt.Errorf("node: zmq dial %s: %w", addr, err)
	}

	return &ZMQSource{sock: sock, logger: logger, cancel: cancel}, nil
}

func (z *ZMQSource) SubscribeTx(handler func(chain.Hash)) error {
	z.onHashTx = handler
	if err := z.sock.SetOption(zmq4.OptionSubscribe, "hashtx"); err != nil {
		return fmt.Errorf("node: zmq subscribe hashtx: %w", err)
	}
	z.ensureDispatch()
	return nil
}

func (z *ZMQSource) SubscribeBlock(handler func()) error {
	z.onHashBlock = handler
	if err := z.sock.SetOption(zmq4.OptionSubscribe, "hashblock"); err != nil {
		return fmt.Errorf("node: zmq subscribe hashblock: %w", err)
	}
	z.ensureDispatch()
	return nil
}

func (z *ZMQSource) ensureDispatch() {
	z.dispatchOnce.Do(func() {
		go z.dispatch()
	})
}

func (z *ZMQSource) Close() error {
	z.cancel()
	return z.sock.Close()
}

func (z *ZMQSource) dispatch() {
	for {
		msg, err := z.sock.Recv()
		if err != nil {
			z.logger.Error("zmq: recv failed", slog.String("err", err.Error()))
			return
		}
		if len(msg.Frames) < 2 {
			continue
		}

		topic := string(msg.Frames[0])
		body := msg.Frames[1]

		switch topic {
		case "hashtx":
			if z.onHashTx == nil {
				continue
			}
			h, err := chain.NewHash(body)
			if err != nil {
				z.logger.Error("zmq: bad hashtx payload", slog.String("err", err.Error()))
				continue
			}
			z.onHashTx(*h)
		case "hashblock":
			if z.onHashBlock != nil {
				z.onHashBlock()
			}
		default:
			z.logger.Debug("zmq: unhandled topic", slog.String("topic", topic))
		}
	}
}
