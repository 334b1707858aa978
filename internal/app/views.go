package app

import (
	"archsync/internal/graph"
)

func sectionView(section graph.Section) map[string]any {
	return map[string]any{
		"slug":               section.Slug,
		"title":              section.Title,
		"content":            section.Content,
		"order":              section.Order,
		"checksum":           section.Checksum,
		"sourceRevision":     section.SourceRevision,
		"parentSectionLabel": section.ParentSectionLabel,
		"stale":              section.Stale,
		"updatedAt":          section.UpdatedAt,
	}
}

func opportunityView(opportunity graph.Opportunity) map[string]any {
	return map[string]any{
		"id":          opportunity.ID,
		"title":       opportunity.Title,
		"description": opportunity.Description,
		"status":      opportunity.Status,
		"createdAt":   opportunity.CreatedAt,
	}
}

func proposalView(proposal graph.Proposal) map[string]any {
	return map[string]any{
		"id":                   proposal.ID,
		"opportunityId":        proposal.OpportunityID,
		"title":                proposal.Title,
		"targetSection":        proposal.TargetSection,
		"description":          proposal.Description,
		"status":               proposal.Status,
		"implementationStatus": proposal.ImplementationStatus,
		"rejectionReason":      proposal.RejectionReason,
		"syncAllowed":          proposal.SyncAllowed(),
		"createdAt":            proposal.CreatedAt,
		"updatedAt":            proposal.UpdatedAt,
	}
}

func proposalDetailView(detail ProposalDetail) map[string]any {
	view := proposalView(detail.Proposal)
	if detail.Sync != nil {
		view["syncedTo"] = syncRelationshipView(*detail.Sync)
	} else {
		view["syncedTo"] = nil
	}
	return view
}

func implementationView(implementation graph.Implementation) map[string]any {
	return map[string]any{
		"id":            implementation.ID,
		"proposalId":    implementation.ProposalID,
		"summary":       implementation.Summary,
		"implementedBy": implementation.ImplementedBy,
		"createdAt":     implementation.CreatedAt,
	}
}

func syncRelationshipView(rel graph.SyncRelationship) map[string]any {
	return map[string]any{
		"proposalId":  rel.ProposalID,
		"sectionSlug": rel.SectionSlug,
		"syncedAt":    rel.SyncedAt,
	}
}
