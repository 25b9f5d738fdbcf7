// Package mq defines the message bus collaborator consumed by
// EventPublisher (spec §6): a narrow notify/listen facade, generalized
// from the pack's blocktx.MessageQueueClient interface but carrying
// JSON payloads instead of protobuf, since colored-coin and chain
// subscribers outside this module are not Go services.
package mq

// Client is the message bus collaborator. Publish delivers payload on
// channel; Listen registers handler for every message received on
// channel. Implementations own their own reconnect/backoff policy.
type Client interface {
	Publish(channel string, payload []byte) error
	Listen(channel string, handler func(payload []byte)) error
	Close() error
}
