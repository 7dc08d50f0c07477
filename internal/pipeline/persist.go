package pipeline

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/model"
)

// persist writes the Lead, then its Contact, then the Contact's mentions.
// Nothing is rolled back when a later write fails.
func (r *run) persist(out *outcome, status model.Status) error {
	return r.trackPhase(PhasePersist, func() (*model.PhaseResult, error) {
		ctx, cancel := r.stage(r.p.cfg.Timeouts.PersistSecs)
		defer cancel()

		lead := buildLead(out, status, r.result.Phases, r.ledger.Cents())
		if err := r.p.Store.CreateLead(ctx, lead); err != nil {
			return nil, eris.Wrap(err, "pipeline: persist lead")
		}
		r.result.LeadID = lead.ID
		pr := &model.PhaseResult{Metadata: map[string]any{"lead_id": lead.ID}}

		if status != model.StatusEnriched {
			return pr, nil
		}

		mentions := out.insights.Mentions()
		depth := model.DepthBasic
		if len(mentions) > 0 {
			depth = model.DepthEnhanced
		}
		contact, err := model.NewContact(lead.ID, *out.contact, *out.email, depth)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: build contact")
		}
		if err := r.p.Store.CreateContact(ctx, contact); err != nil {
			return nil, eris.Wrap(err, "pipeline: persist contact")
		}
		pr.Metadata["contact_id"] = contact.ID

		if len(mentions) > 0 {
			if err := r.p.Store.CreateMediaMentions(ctx, contact.ID, mentions); err != nil {
				return nil, eris.Wrap(err, "pipeline: persist media mentions")
			}
			pr.Metadata["mentions"] = len(mentions)
		}
		r.log.Debug("pipeline: lead persisted", zap.String("lead_id", lead.ID), zap.String("contact_id", contact.ID))
		return pr, nil
	})
}

func buildLead(out *outcome, status model.Status, phases []model.PhaseResult, costCents int) *model.Lead {
	ai, source := DetectAttribution(out.visit)
	lead := &model.Lead{
		WorkspaceID:    out.visit.WorkspaceID,
		VisitID:        out.visit.ID,
		Status:         status,
		CompanyName:    out.company.Name,
		CompanyDomain:  out.company.Domain,
		CompanyCity:    out.company.City,
		CompanyCountry: out.company.Country,
		CompanyType:    out.company.Type,
		AIReferred:     ai,
		AISource:       source,
		Quality:        Quality(status, out.insights),
		CostCents:      costCents,
		Phases:         append([]model.PhaseResult(nil), phases...),
	}
	if out.contact != nil {
		lead.Confidence = out.contact.Confidence
	}
	return lead
}

// Quality maps a terminal status to the lead's enrichment tier.
func Quality(status model.Status, ins *model.Insights) model.LeadQuality {
	switch status {
	case model.StatusEnriched:
		if len(ins.Mentions()) > 0 {
			return model.QualityVerifiedEnhanced
		}
		return model.QualityVerified
	case model.StatusEmailFail:
		return model.QualityContactUnverified
	default:
		return model.QualityCompanyOnly
	}
}
