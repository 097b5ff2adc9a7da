// Package metadata holds the change-proposal record that built-in plugins
// exchange, plus URN and dataset helpers for producing them.
package metadata

import (
	"strings"

	"github.com/divyamanohar-stripe/datahub/errors"
)

// ChangeType is the kind of change a proposal carries.
type ChangeType string

const (
	ChangeUpsert ChangeType = "UPSERT"
	ChangeCreate ChangeType = "CREATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeProposal proposes a change to one aspect of one entity.
type ChangeProposal struct {
	EntityType string         `json:"entityType" yaml:"entityType"`
	EntityURN  string         `json:"entityUrn" yaml:"entityUrn"`
	ChangeType ChangeType     `json:"changeType" yaml:"changeType"`
	AspectName string         `json:"aspectName" yaml:"aspectName"`
	Aspect     map[string]any `json:"aspect,omitempty" yaml:"aspect,omitempty"`
}

// NewUpsert creates an UPSERT proposal.
func NewUpsert(entityType, urn, aspectName string, aspect map[string]any) *ChangeProposal {
	return &ChangeProposal{
		EntityType: entityType,
		EntityURN:  urn,
		ChangeType: ChangeUpsert,
		AspectName: aspectName,
		Aspect:     aspect,
	}
}

// Validate checks that the proposal is addressable and carries a known
// change type.
func (p *ChangeProposal) Validate() error {
	if p == nil {
		return errors.NewInvalidRequestError("change proposal is nil")
	}
	if p.EntityType == "" {
		return errors.NewInvalidRequestError("change proposal for %q has no entityType", p.EntityURN)
	}
	if !strings.HasPrefix(p.EntityURN, urnPrefix) {
		return errors.WithHint(
			errors.NewInvalidRequestError("entityUrn %q is not a URN", p.EntityURN),
			"URNs look like urn:li:dataset:(urn:li:dataPlatform:hive,db.table,PROD)",
		)
	}
	if p.AspectName == "" {
		return errors.NewInvalidRequestError("change proposal for %q has no aspectName", p.EntityURN)
	}
	switch p.ChangeType {
	case ChangeUpsert, ChangeCreate:
		if p.Aspect == nil {
			return errors.NewInvalidRequestError("%s of %s on %q has no aspect", p.ChangeType, p.AspectName, p.EntityURN)
		}
	case ChangeDelete:
	default:
		return errors.NewInvalidRequestError("unknown changeType %q", p.ChangeType)
	}
	return nil
}

// Key identifies the aspect a proposal targets.
func (p *ChangeProposal) Key() string {
	return p.EntityURN + "#" + p.AspectName
}
