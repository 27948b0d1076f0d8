package cluster

import "github.com/linnemanlabs/beacon/internal/signal"

// Bucket is a transient spatial grouping of signals considered together for
// incident reasoning. The key coordinates are those of the first signal that
// opened the bucket.
type Bucket struct {
	Lat     float64
	Lng     float64
	Signals []signal.Signal
}

// FormBuckets greedily groups signals by coordinate proximity. Signals are
// visited in input order; each joins the first existing bucket whose key is
// within delta degrees on both axes, otherwise it opens a new bucket keyed
// by its own coordinates. The absolute-degree bound is a deliberate
// approximation of distance; it distorts away from the equator.
//
// Noise signals and signals without coordinates never enter a bucket.
// Buckets with fewer than minCount signals are discarded.
func FormBuckets(signals []signal.Signal, delta float64, minCount int) []Bucket {
	var buckets []Bucket

	for _, sig := range signals {
		if sig.IsNoise() || !sig.HasCoordinates() {
			continue
		}
		lat, lng := *sig.Latitude, *sig.Longitude

		joined := false
		for i := range buckets {
			if abs(lat-buckets[i].Lat) <= delta && abs(lng-buckets[i].Lng) <= delta {
				buckets[i].Signals = append(buckets[i].Signals, sig)
				joined = true
				break
			}
		}
		if !joined {
			buckets = append(buckets, Bucket{Lat: lat, Lng: lng, Signals: []signal.Signal{sig}})
		}
	}

	kept := buckets[:0]
	for _, b := range buckets {
		if len(b.Signals) >= minCount {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
