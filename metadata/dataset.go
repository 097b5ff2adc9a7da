package metadata

import (
	"sort"
)

// Aspect names emitted for datasets.
const (
	AspectDatasetProperties = "datasetProperties"
	AspectOwnership         = "ownership"
	AspectSLAInfo           = "slaInfo"
)

// SLA holds the completion deadlines of a dataset, in seconds after the
// start of its schedule.
type SLA struct {
	Defined         bool
	ErrorStartedBy  *float64
	WarnStartedBy   *float64
	ErrorFinishedBy *float64
	WarnFinishedBy  *float64
}

// Dataset describes one dataset and renders the proposals that publish it.
type Dataset struct {
	Platform    string
	Name        string
	Env         string
	Description string
	Properties  map[string]string
	Owners      []string
	GroupOwners []string
	SLA         SLA
}

// URN returns the dataset URN.
func (d *Dataset) URN() string {
	return MakeDatasetURN(d.Platform, d.Name, d.Env)
}

// Proposals returns the datasetProperties, ownership and slaInfo proposals
// for the dataset, in that order.
func (d *Dataset) Proposals() []*ChangeProposal {
	urn := d.URN()

	props := map[string]any{}
	custom := map[string]any{}
	for k, v := range d.Properties {
		custom[k] = v
	}
	props["customProperties"] = custom
	if d.Description != "" {
		props["description"] = d.Description
	}

	return []*ChangeProposal{
		NewUpsert("dataset", urn, AspectDatasetProperties, props),
		NewUpsert("dataset", urn, AspectOwnership, Ownership(d.Owners, d.GroupOwners, "SERVICE")),
		NewUpsert("dataset", urn, AspectSLAInfo, d.slaAspect()),
	}
}

func (d *Dataset) slaAspect() map[string]any {
	aspect := map[string]any{"slaDefined": boolString(d.SLA.Defined)}
	put := func(key string, v *float64) {
		if v != nil {
			aspect[key] = *v
		}
	}
	put("errorStartedBy", d.SLA.ErrorStartedBy)
	put("warnStartedBy", d.SLA.WarnStartedBy)
	put("errorFinishedBy", d.SLA.ErrorFinishedBy)
	put("warnFinishedBy", d.SLA.WarnFinishedBy)
	return aspect
}

// Ownership builds an ownership aspect listing users and groups as
// developers. Duplicates are removed and owners are sorted by URN.
func Ownership(users, groups []string, sourceType string) map[string]any {
	seen := make(map[string]struct{})
	var urns []string
	add := func(urn string) {
		if _, ok := seen[urn]; ok {
			return
		}
		seen[urn] = struct{}{}
		urns = append(urns, urn)
	}
	for _, u := range users {
		add(MakeUserURN(u))
	}
	for _, g := range groups {
		add(MakeGroupURN(g))
	}
	sort.Strings(urns)

	owners := make([]any, 0, len(urns))
	for _, urn := range urns {
		owners = append(owners, map[string]any{
			"owner":  urn,
			"type":   "DEVELOPER",
			"source": map[string]any{"type": sourceType},
		})
	}
	return map[string]any{"owners": owners}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
