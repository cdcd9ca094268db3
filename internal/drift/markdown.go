package drift

import (
	"fmt"
	"strings"
)

// Markdown renders the prioritized drift report, grouping drifted
// clusters by the highest priority among their recommendations.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Cluster Drift Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt)
	fmt.Fprintf(&b, "Analyzed %d clusters, %d drifted, %d empty.\n", r.Analyzed, len(r.Drifted), r.EmptyCount)

	for _, priority := range []string{PriorityHigh, PriorityMedium, PriorityLow} {
		var group []*ClusterReport
		for _, cr := range r.Drifted {
			if topPriority(cr) == priority {
				group = append(group, cr)
			}
		}
		if len(group) == 0 {
			continue
		}

		fmt.Fprintf(&b, "\n## %s priority\n", strings.ToUpper(priority[:1])+priority[1:])
		for _, cr := range group {
			fmt.Fprintf(&b, "\n### Cluster %d: %s\n\n", cr.ClusterID, cr.Topic)
			fmt.Fprintf(&b, "- Size: %d (stored %d)\n", cr.CurrentSize, cr.StoredSize)
			fmt.Fprintf(&b, "- Centroid shift: %.3f\n", cr.CentroidShift)
			fmt.Fprintf(&b, "- Low confidence ratio: %.3f\n", cr.LowConfidenceRatio)
			fmt.Fprintf(&b, "- Size change ratio: %.3f\n", cr.SizeChangeRatio)
			fmt.Fprintf(&b, "- Outlier ratio: %.3f\n", cr.OutlierRatio)
			fmt.Fprintf(&b, "- Temporal drift: %.3f\n", cr.TemporalDrift)
			for _, rec := range cr.Recommendations {
				fmt.Fprintf(&b, "- **%s** (%s): %s\n", rec.Action, rec.Priority, rec.Reason)
			}
		}
	}

	if empties := r.emptyClusters(); len(empties) > 0 {
		fmt.Fprintf(&b, "\n## Empty clusters\n\n")
		for _, cr := range empties {
			fmt.Fprintf(&b, "- Cluster %d: %s (stored %d members, now none)\n", cr.ClusterID, cr.Topic, cr.StoredSize)
		}
	}

	return b.String()
}

func (r *Report) emptyClusters() []*ClusterReport {
	var out []*ClusterReport
	for _, cr := range r.Clusters {
		if cr.Empty {
			out = append(out, cr)
		}
	}
	return out
}

// topPriority returns the highest priority among a cluster's
// recommendations, defaulting to low.
func topPriority(cr *ClusterReport) string {
	rank := map[string]int{PriorityHigh: 3, PriorityMedium: 2, PriorityLow: 1}
	best := PriorityLow
	for _, rec := range cr.Recommendations {
		if rank[rec.Priority] > rank[best] {
			best = rec.Priority
		}
	}
	return best
}
