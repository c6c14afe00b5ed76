package refresh

import (
	"sort"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

// MergeResult is the record set produced by reconciling the persisted records with
// the current upstream listing.
type MergeResult struct {
	// Records is the merged set in output order.
	Records []*models.PriceRecord

	// Listing maps full tickers to the listing entry to overlay on that record.
	Listing map[string]*models.ListingEntry

	Added  int
	Pruned int

	// Duplicates counts persisted or listed entries dropped because their full ticker
	// was already taken by an earlier one.
	Duplicates int
}

// Merge reconciles persisted records with the upstream listing.
//
// The result follows listing order: a listed ticker reuses its persisted record or
// gets a fresh, never-refreshed one. With prune set, persisted records whose ticker is
// no longer listed are dropped; otherwise they are kept after the listed ones in their
// persisted order. An empty listing never prunes and returns the persisted set as is.
// For duplicate tickers the first occurrence wins.
func Merge(persisted []*models.PriceRecord, listing []*models.ListingEntry, prune bool) MergeResult {
	result := MergeResult{Listing: make(map[string]*models.ListingEntry, len(listing))}

	existing := make(map[string]*models.PriceRecord, len(persisted))
	order := make([]*models.PriceRecord, 0, len(persisted))
	for _, record := range persisted {
		ticker := record.FullTicker()
		if _, dup := existing[ticker]; dup {
			result.Duplicates++
			continue
		}
		existing[ticker] = record
		order = append(order, record)
	}

	if len(listing) == 0 {
		result.Records = order
		return result
	}

	result.Records = make([]*models.PriceRecord, 0, len(listing))
	for _, entry := range listing {
		ticker := entry.FullTicker()
		if _, dup := result.Listing[ticker]; dup {
			result.Duplicates++
			continue
		}
		result.Listing[ticker] = entry

		if record, ok := existing[ticker]; ok {
			result.Records = append(result.Records, record)
			continue
		}
		result.Records = append(result.Records, models.NewPriceRecord(entry))
		result.Added++
	}

	for _, record := range order {
		if _, listed := result.Listing[record.FullTicker()]; listed {
			continue
		}
		if prune {
			result.Pruned++
			continue
		}
		result.Records = append(result.Records, record)
	}

	return result
}

// OrderByStaleness returns the records oldest-refreshed first. Never-refreshed
// records come first; ties keep their input order. The input slice is not modified.
func OrderByStaleness(records []*models.PriceRecord) []*models.PriceRecord {
	ordered := make([]*models.PriceRecord, len(records))
	copy(ordered, records)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Timestamp, ordered[j].Timestamp
		switch {
		case !a.Valid:
			return b.Valid
		case !b.Valid:
			return false
		default:
			return a.Time.Before(b.Time)
		}
	})

	return ordered
}
