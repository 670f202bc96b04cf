package multitable

import (
	"context"
	"fmt"

	"kddetl/internal/kdd"
	"kddetl/internal/storage"
)

// DistinctDestinations returns the distinct destination profiles of recs in
// first-seen order. Profiles are equal only when all six fields are equal;
// float fields compare exactly, so 0.1 and 0.10000000000000001 parse to the
// same key while 0.1 and 0.1000001 do not.
func DistinctDestinations(recs []kdd.ConnectionRecord) []kdd.DestinationKey {
	seen := make(map[kdd.DestinationKey]struct{})
	var out []kdd.DestinationKey
	for _, r := range recs {
		if _, ok := seen[r.Destination]; ok {
			continue
		}
		seen[r.Destination] = struct{}{}
		out = append(out, r.Destination)
	}
	return out
}

// loadDestinations inserts one destination row per distinct profile and
// returns the profile -> destination_id map.
func (e *Engine) loadDestinations(ctx context.Context, recs []kdd.ConnectionRecord) (map[kdd.DestinationKey]int64, error) {
	keys := DistinctDestinations(recs)
	rows := make([][]any, len(keys))
	for i, k := range keys {
		rows[i] = k.Values()
	}

	keyed, err := e.insertDimension(ctx, TableDestination, ColDestinationID, kdd.DestinationColumns, rows)
	if err != nil {
		return nil, err
	}

	ids := make(map[kdd.DestinationKey]int64, len(keyed))
	for _, kr := range keyed {
		k, err := destinationKey(kr)
		if err != nil {
			return nil, fmt.Errorf("%s: id %d: %w", TableDestination, kr.ID, err)
		}
		ids[k] = kr.ID
	}
	return ids, nil
}

// destinationKey rebuilds a DestinationKey from values ordered like
// kdd.DestinationColumns.
func destinationKey(kr storage.KeyedRow) (kdd.DestinationKey, error) {
	if len(kr.Values) != len(kdd.DestinationColumns) {
		return kdd.DestinationKey{}, fmt.Errorf("got %d values, want %d", len(kr.Values), len(kdd.DestinationColumns))
	}

	var (
		k   kdd.DestinationKey
		err error
	)
	ints := []*int64{&k.DstBytes, &k.DstHostCount, &k.DstHostSrvCount}
	for i, dst := range ints {
		if *dst, err = storage.AsInt64(kr.Values[i]); err != nil {
			return kdd.DestinationKey{}, fmt.Errorf("%s: %w", kdd.DestinationColumns[i], err)
		}
	}
	floats := []*float64{&k.DstHostSameSrvRate, &k.DstHostDiffSrvRate, &k.DstHostSerrorRate}
	for i, dst := range floats {
		j := len(ints) + i
		if *dst, err = storage.AsFloat64(kr.Values[j]); err != nil {
			return kdd.DestinationKey{}, fmt.Errorf("%s: %w", kdd.DestinationColumns[j], err)
		}
	}
	return k, nil
}
