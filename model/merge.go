package model

import (
	"encoding/json"
	"sort"
	"time"
)

type (
	FieldStamp struct {
		Value     json.RawMessage `json:"value"`
		UpdatedAt time.Time       `json:"updatedAt"`
	}

	// ProfileDocument is the replay payload for profile and preference
	// updates. Each field carries its own write timestamp so divergent
	// copies merge field by field.
	ProfileDocument struct {
		Fields map[string]FieldStamp `json:"fields"`
	}

	PriceAlertSubscriptions struct {
		CropIDs []string `json:"cropIds"`
	}
)

// MergeProfiles keeps, per field, the stamp written last. Remote wins ties
// so both sides converge on the same document.
func MergeProfiles(local, remote ProfileDocument) ProfileDocument {
	merged := ProfileDocument{
		Fields: make(map[string]FieldStamp, len(remote.Fields)),
	}

	for name, stamp := range remote.Fields {
		merged.Fields[name] = stamp
	}

	for name, stamp := range local.Fields {
		current, ok := merged.Fields[name]
		if !ok || stamp.UpdatedAt.After(current.UpdatedAt) {
			merged.Fields[name] = stamp
		}
	}

	return merged
}

// MergePriceAlerts unions both subscription sets, sorted for a
// deterministic wire form.
func MergePriceAlerts(local, remote PriceAlertSubscriptions) PriceAlertSubscriptions {
	seen := make(map[string]struct{}, len(local.CropIDs)+len(remote.CropIDs))
	merged := PriceAlertSubscriptions{
		CropIDs: make([]string, 0, len(local.CropIDs)+len(remote.CropIDs)),
	}

	for _, cropID := range append(remote.CropIDs, local.CropIDs...) {
		if _, ok := seen[cropID]; ok {
			continue
		}

		seen[cropID] = struct{}{}
		merged.CropIDs = append(merged.CropIDs, cropID)
	}

	sort.Strings(merged.CropIDs)

	return merged
}
