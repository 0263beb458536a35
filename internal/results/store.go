// Package results persists provisioning output as append-only record
// streams: confirmed accounts, their tokens, and harvested referral codes.
package results

import (
	"context"
	"fmt"
)

// Stream names one append-only record stream.
type Stream string

const (
	// StreamAccounts holds email|password records.
	StreamAccounts Stream = "accounts"
	// StreamTokens holds confirmed session tokens.
	StreamTokens Stream = "tokens"
	// StreamCodes holds harvested referral codes.
	StreamCodes Stream = "codes"
)

// Streams lists every known stream.
func Streams() []Stream {
	return []Stream{StreamAccounts, StreamTokens, StreamCodes}
}

// Store appends records to streams. Records never contain newlines.
type Store interface {
	Append(ctx context.Context, stream Stream, record string) error
	Records(ctx context.Context, stream Stream) ([]string, error)
	Close() error
}

func validStream(s Stream) error {
	switch s {
	case StreamAccounts, StreamTokens, StreamCodes:
		return nil
	default:
		return fmt.Errorf("results: unknown stream %q", s)
	}
}
