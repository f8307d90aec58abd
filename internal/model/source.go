package model

import (
	"context"
	"errors"
)

// ErrIncomplete is wrapped by a Source whose stream reached its end with
// records missing. The shard is kept and tagged partial.
var ErrIncomplete = errors.New("source stream incomplete")

// Observer receives normalized packets and decoding outcomes from a Source.
type Observer interface {
	Observe(record *PacketRecord)
	RecordParseError()
	RecordSkipped()
}

// Source delivers one shard of the packet stream to an Observer.
// Run returns ctx.Err() when it stops before the stream is exhausted.
// A stream known to have lost records returns an error wrapping ErrIncomplete.
type Source interface {
	Name() string
	Run(ctx context.Context, obs Observer) error
}

// OriginProvider is implemented by sources that can report the timestamp of
// their first decodable packet without consuming the stream.
type OriginProvider interface {
	FirstTimestamp() (int64, bool, error)
}
