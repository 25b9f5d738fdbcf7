// Package events implements EventPublisher (spec §4.3): a typed facade
// over internal/mq.Client. Every method accepts an optional store.Tx;
// when supplied, delivery is deferred to that transaction's
// commit-outbox (store.Tx.OnCommit) instead of happening immediately,
// so a rolled-back transaction never leaks a notification — grounded
// on the pack's outbox-on-commit shape used by blocktx's mq_client
// callers inside ExecuteTransaction bodies.
package events

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/mq"
	"github.com/thehobbit85/chromanode/internal/store"
)

const (
	ChannelSendTxResponse  = "sendtxresponse"
	ChannelBroadcastBlock  = "broadcastblock"
	ChannelBroadcastTx     = "broadcasttx"
	ChannelBroadcastAddr   = "broadcastaddress"
	ChannelBroadcastStatus = "broadcaststatus"
	ChannelAddTx           = "addtx"
	ChannelRemoveTx        = "removetx"
	ChannelAddBlock        = "addblock"
	ChannelRemoveBlock     = "removeblock"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

type SendTxResponsePayload struct {
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type BroadcastBlockPayload struct {
	Hash   string `json:"hash"`
	Height int32  `json:"height"`
}

type BroadcastTxPayload struct {
	TxID        string `json:"txid"`
	BlockHash   string `json:"blockhash,omitempty"`
	BlockHeight *int32 `json:"blockheight,omitempty"`
}

type BroadcastAddressPayload struct {
	Address     string `json:"address"`
	TxID        string `json:"txid"`
	BlockHash   string `json:"blockhash,omitempty"`
	BlockHeight *int32 `json:"blockheight,omitempty"`
}

type AddRemoveTxPayload struct {
	TxID        string `json:"txid"`
	Unconfirmed bool   `json:"unconfirmed"`
}

type AddRemoveBlockPayload struct {
	Hash string `json:"hash"`
}

// Publisher is EventPublisher: the only thing downstream subscribers
// (ColorRescanner among them, in-process, and external collaborators
// over the bus) ever see change in this system.
type Publisher struct {
	bus    mq.Client
	logger *slog.Logger
}

func New(bus mq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, logger: logger}
}

func hashString(h chain.Hash) string {
	return hex.EncodeToString(h[:])
}

// publish delivers payload on channel immediately, or — when tx is
// non-nil — defers delivery until tx's enclosing ExecuteTransaction
// call commits.
func (p *Publisher) publish(tx store.Tx, channel string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("events: marshal failed", slog.String("channel", channel), slog.String("err", err.Error()))
		return
	}

	send := func() {
		if err := p.bus.Publish(channel, body); err != nil {
			p.logger.Error("events: publish failed", slog.String("channel", channel), slog.String("err", err.Error()))
		}
	}

	if tx == nil {
		send()
		return
	}
	tx.OnCommit(send)
}

func (p *Publisher) SendTxResponse(tx store.Tx, id string, status Status, code, message string) {
	p.publish(tx, ChannelSendTxResponse, SendTxResponsePayload{
		ID:      id,
		Status:  status,
		Code:    code,
		Message: NormalizeMessage(message),
	})
}

func (p *Publisher) BroadcastBlock(tx store.Tx, hash chain.Hash, height int32) {
	p.publish(tx, ChannelBroadcastBlock, BroadcastBlockPayload{Hash: hashString(hash), Height: height})
}

func (p *Publisher) BroadcastTx(tx store.Tx, txid chain.Hash, blockHash *chain.Hash, blockHeight *int32) {
	payload := BroadcastTxPayload{TxID: hashString(txid), BlockHeight: blockHeight}
	if blockHash != nil {
		payload.BlockHash = hashString(*blockHash)
	}
	p.publish(tx, ChannelBroadcastTx, payload)
}

func (p *Publisher) BroadcastAddress(tx store.Tx, address string, txid chain.Hash, blockHash *chain.Hash, blockHeight *int32) {
	payload := BroadcastAddressPayload{Address: address, TxID: hashString(txid), BlockHeight: blockHeight}
	if blockHash != nil {
		payload.BlockHash = hashString(*blockHash)
	}
	p.publish(tx, ChannelBroadcastAddr, payload)
}

// BroadcastStatus is a pass-through status line; this system's own
// components don't subscribe to it (open question in spec §9 — no
// observed subscriber in this module), but it is published
// unconditionally for adjacent services that may.
func (p *Publisher) BroadcastStatus(tx store.Tx, status string) {
	p.publish(tx, ChannelBroadcastStatus, struct {
		Status string `json:"status"`
	}{Status: NormalizeMessage(status)})
}

func (p *Publisher) AddTx(tx store.Tx, txid chain.Hash, unconfirmed bool) {
	p.publish(tx, ChannelAddTx, AddRemoveTxPayload{TxID: hashString(txid), Unconfirmed: unconfirmed})
}

func (p *Publisher) RemoveTx(tx store.Tx, txid chain.Hash, unconfirmed bool) {
	p.publish(tx, ChannelRemoveTx, AddRemoveTxPayload{TxID: hashString(txid), Unconfirmed: unconfirmed})
}

func (p *Publisher) AddBlock(tx store.Tx, hash chain.Hash) {
	p.publish(tx, ChannelAddBlock, AddRemoveBlockPayload{Hash: hashString(hash)})
}

func (p *Publisher) RemoveBlock(tx store.Tx, hash chain.Hash) {
	p.publish(tx, ChannelRemoveBlock, AddRemoveBlockPayload{Hash: hashString(hash)})
}

// NormalizeMessage is the escape() hook referenced in spec §9's open
// questions: treated as a no-op normalization point rather than a
// wire-format requirement, preserving the message verbatim. Kept as a
// named function so a future wire-format constraint has a single place
// to land.
func NormalizeMessage(msg string) string {
	return msg
}
