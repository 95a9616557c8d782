package subscription

import "context"

// Store is the outbound port to the subscription registry. Lookups are by
// normalized email; key comparison is the caller's responsibility so a
// store implementation never needs the presented key.
type Store interface {
	// Lookup returns the subscription record for the normalized email.
	// Returns ErrNotFound when no record exists and ErrStoreUnavailable
	// when the registry cannot be reached.
	Lookup(ctx context.Context, email string) (*Record, error)

	// Health probes registry connectivity.
	Health(ctx context.Context) error
}
