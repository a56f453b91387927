package monitor

import (
	"container/heap"
	"math"
	"sort"

	"github.com/fencewise/geosync/internal/connection"
)

const earthRadiusMeters = 6371000

// haversine returns the great-circle distance between two coordinates in
// meters.
func haversine(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

type rankedRegion struct {
	region   connection.Region
	distance float64
}

// worse orders ranked regions with the least desirable first: greater
// distance, region id breaking ties. Keeping the worst on top of the heap
// lets a better candidate displace it.
func worse(a, b rankedRegion) bool {
	if a.distance != b.distance {
		return a.distance > b.distance
	}
	return a.region.ID > b.region.ID
}

type regionHeap []rankedRegion

func (h regionHeap) Len() int           { return len(h) }
func (h regionHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h regionHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *regionHeap) Push(x any)        { *h = append(*h, x.(rankedRegion)) }
func (h *regionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// nearest selects up to k candidates closest to anchor, region id breaking
// distance ties. A nil anchor ranks every candidate equally, so selection
// falls back to id order. The bounded heap keeps the scan at O(n log k).
func nearest(candidates []connection.Region, anchor *Coordinate, k int) []connection.Region {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	h := make(regionHeap, 0, k)
	for _, region := range candidates {
		var dist float64
		if anchor != nil {
			dist = haversine(*anchor, Coordinate{Latitude: region.Latitude, Longitude: region.Longitude})
		}
		ranked := rankedRegion{region: region, distance: dist}
		if len(h) < k {
			heap.Push(&h, ranked)
			continue
		}
		if worse(h[0], ranked) {
			h[0] = ranked
			heap.Fix(&h, 0)
		}
	}

	out := make([]connection.Region, len(h))
	for i, ranked := range h {
		out[i] = ranked.region
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
