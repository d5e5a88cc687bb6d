package domain

import "context"

// TradeJournal is an append-only audit record of every trade the watcher
// applied. Implementations must tolerate duplicate trade IDs (the two
// ingestion paths re-deliver) by skipping them. The journal is never read
// back to rebuild state.
type TradeJournal interface {
	Append(ctx context.Context, trade Trade) error
}

// SignalBus publishes raw state-change payloads to a named channel for
// out-of-process consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// BlobWriter stores a serialized snapshot under a key in object storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
