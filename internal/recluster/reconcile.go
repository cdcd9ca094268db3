package recluster

import "sort"

// Group is one reconciled sub-cluster. Continues is the old cluster id
// the group maps back to; 0 means the group is novel and needs a fresh id.
type Group struct {
	Label     int     `json:"label"`
	ItemIDs   []int64 `json:"item_ids"`
	Continues int64   `json:"continues,omitempty"`
	Novel     bool    `json:"novel"`
}

// Resolution is the outcome of identity reconciliation for one batch.
type Resolution struct {
	Groups     []Group
	Noise      []int64
	Confidence map[int64]float64
}

// Reconcile maps new sub-cluster labels back onto old cluster ids. A
// group continues an old cluster when that cluster accounts for at least
// the stability threshold of the group's members. Each old id can be
// claimed once; groups are resolved largest-first so when two groups both
// qualify for the same old cluster, the larger one keeps the identity and
// the other is treated as novel.
func Reconcile(points []Point, labels []Label, stability float64) *Resolution {
	origin := make(map[int64]int64, len(points))
	for _, p := range points {
		origin[p.ID] = p.OriginalCluster
	}

	res := &Resolution{Confidence: make(map[int64]float64)}
	members := make(map[int][]int64)
	for _, l := range labels {
		if l.Confidence != nil {
			res.Confidence[l.ID] = *l.Confidence
		}
		if l.NewCluster == NoiseLabel {
			res.Noise = append(res.Noise, l.ID)
			continue
		}
		members[l.NewCluster] = append(members[l.NewCluster], l.ID)
	}

	order := make([]int, 0, len(members))
	for label := range members {
		order = append(order, label)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if len(members[a]) != len(members[b]) {
			return len(members[a]) > len(members[b])
		}
		return a < b
	})

	claimed := make(map[int64]bool)
	for _, label := range order {
		ids := members[label]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		group := Group{Label: label, ItemIDs: ids}
		if best, count := bestOverlap(ids, origin); best != 0 &&
			float64(count) >= stability*float64(len(ids)) &&
			!claimed[best] {
			group.Continues = best
			claimed[best] = true
		} else {
			group.Novel = true
		}
		res.Groups = append(res.Groups, group)
	}

	return res
}

// bestOverlap returns the old cluster id accounting for the most members
// of the group, smallest id on ties, and its member count. Unassigned
// members (origin 0) count toward no cluster.
func bestOverlap(ids []int64, origin map[int64]int64) (int64, int) {
	counts := make(map[int64]int)
	for _, id := range ids {
		if old := origin[id]; old != 0 {
			counts[old]++
		}
	}

	var best int64
	bestCount := 0
	for old, count := range counts {
		if count > bestCount || (count == bestCount && old < best) {
			best = old
			bestCount = count
		}
	}
	return best, bestCount
}
