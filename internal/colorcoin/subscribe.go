package colorcoin

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/events"
	"github.com/thehobbit85/chromanode/internal/mq"
)

// Subscribe wires the rescanner to EventPublisher's addtx/removetx
// stream (AddTxs/RemoveTxs) and addblock/removeblock stream
// (UpdateBlocks), spec §4.8: ColorRescanner is one of the bus's own
// subscribers, not a privileged in-process caller, so it only ever
// learns about new/dropped transactions and blocks the same way any
// other downstream consumer does.
func (r *Rescanner) Subscribe(ctx context.Context, bus mq.Client) error {
	if err := bus.Listen(events.ChannelAddTx, r.onAddTx(ctx)); err != nil {
		return err
	}
	if err := bus.Listen(events.ChannelRemoveTx, r.onRemoveTx(ctx)); err != nil {
		return err
	}
	onBlock := func([]byte) {
		if err := r.UpdateBlocks(ctx); err != nil {
			r.logger.Error("colorcoin: update blocks failed", slog.String("err", err.Error()))
		}
	}
	if err := bus.Listen(events.ChannelAddBlock, onBlock); err != nil {
		return err
	}
	if err := bus.Listen(events.ChannelRemoveBlock, onBlock); err != nil {
		return err
	}
	return nil
}

func (r *Rescanner) onAddTx(ctx context.Context) func([]byte) {
	return func(payload []byte) {
		id, err := decodeTxIDPayload(payload)
		if err != nil {
			r.logger.Error("colorcoin: decode addtx payload", slog.String("err", err.Error()))
			return
		}
		r.AddTxs(ctx, []chain.Hash{id})
	}
}

func (r *Rescanner) onRemoveTx(ctx context.Context) func([]byte) {
	return func(payload []byte) {
		id, err := decodeTxIDPayload(payload)
		if err != nil {
			r.logger.Error("colorcoin: decode removetx payload", slog.String("err", err.Error()))
			return
		}
		r.RemoveTxs(ctx, []chain.Hash{id})
	}
}

func decodeTxIDPayload(payload []byte) (chain.Hash, error) {
	var body events.AddRemoveTxPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return chain.Hash{}, err
	}
	raw, err := hex.DecodeString(body.TxID)
	if err != nil {
		return chain.Hash{}, err
	}
	id, err := chain.NewHash(raw)
	if err != nil {
		return chain.Hash{}, err
	}
	return *id, nil
}
