// Package exchange defines the gateway to the upstream commodity exchange market-data API.
//
// The gateway has two operations: fetching the full current listing and fetching the
// historical candle series for one ticker. Both distinguish "no data", which is a valid
// empty result, from "malformed data", which is a fatal integrity error. History fetches
// are additionally bounded by a deadline; running past it is reported as rate limiting
// rather than as an error, because that is how the upstream API behaves under load.
package exchange

import (
	"context"
	"time"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

// ListingFetcher retrieves the current market listing.
type ListingFetcher interface {
	// FetchListing returns every listing entry currently published upstream, in
	// upstream order. An empty or no-content response yields an empty slice and no
	// error. A response that does not parse yields a fatal classified error.
	FetchListing(ctx context.Context) ([]*models.ListingEntry, error)
}

// HistoryFetcher retrieves per-ticker historical candles.
type HistoryFetcher interface {
	// FetchHistory returns the candle series for a full ticker such as "RAT.AI1".
	//
	// An empty or no-content response yields a result with no entries. A request
	// that exceeds the history deadline, or that the upstream rejects with HTTP 429,
	// yields a result with RateLimited set and no error. A malformed payload or any
	// other upstream failure yields a fatal classified error.
	FetchHistory(ctx context.Context, fullTicker string) (HistoryResult, error)
}

// Gateway combines both upstream operations.
type Gateway interface {
	ListingFetcher
	HistoryFetcher
}

// HistoryResult is the outcome of a history fetch.
type HistoryResult struct {
	Entries     []models.CandleEntry
	RateLimited bool
	Elapsed     time.Duration
}

// Empty reports whether the fetch completed without any candles.
func (r HistoryResult) Empty() bool {
	return !r.RateLimited && len(r.Entries) == 0
}
