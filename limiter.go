package cobs

// sanitizeTopK ensures k is within valid bounds [1, maxResults].
//
// If k is <= 0 or exceeds maxResults, it returns maxResults.
// QueryEngine's compact-index search applies it through limitHits.
func sanitizeTopK(k, maxResults int) int {
	if k <= 0 || k > maxResults {
		return maxResults
	}
	return k
}

// limitHits applies top-k limiting to a result slice already sorted
// descending by count.
func limitHits(hits []QueryHit, k int) []QueryHit {
	k = sanitizeTopK(k, len(hits))
	return hits[:k]
}
