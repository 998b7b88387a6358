package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

// defaultApproverRole approves when no template matches an artifact.
const defaultApproverRole = "account_manager"

// TemplateService manages approval templates and resolves the level
// definitions a new workflow starts with.
type TemplateService struct {
	store repository.Store
	log   *logger.Logger
}

// NewTemplateService creates a new TemplateService.
func NewTemplateService(store repository.Store, log *logger.Logger) *TemplateService {
	return &TemplateService{store: store, log: log}
}

// CreateTemplate validates and stores a template.
func (s *TemplateService) CreateTemplate(
	ctx context.Context,
	caller Caller,
	tpl *repository.ApprovalTemplate,
) (*repository.ApprovalTemplate, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	if !tpl.Kind.Valid() {
		return nil, errors.InvalidInput("kind", "must be quote or deliverable")
	}
	if strings.TrimSpace(tpl.Name) == "" {
		return nil, errors.InvalidInput("name", "template name is required")
	}
	if tpl.MinAmount != nil && tpl.MaxAmount != nil && *tpl.MinAmount >= *tpl.MaxAmount {
		return nil, errors.InvalidInput("max_amount", "must be greater than min_amount")
	}
	if err := validateLevels(tpl.WorkflowType, tpl.Levels); err != nil {
		return nil, err
	}

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.InsertTemplate(ctx, tpl)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("template_id", tpl.ID).
		Str("kind", string(tpl.Kind)).
		Int("priority", tpl.Priority).
		Msg("Approval template created")

	return tpl, nil
}

// ListTemplates returns templates for a kind in evaluation order.
func (s *TemplateService) ListTemplates(
	ctx context.Context,
	kind repository.ArtifactKind,
	activeOnly bool,
) ([]*repository.ApprovalTemplate, error) {
	var out []*repository.ApprovalTemplate
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListTemplates(ctx, kind, activeOnly)
		return err
	})
	return out, err
}

// resolveLevels returns the first active template matching the version, in
// priority order, or a single default level when none matches.
func (s *TemplateService) resolveLevels(
	ctx context.Context,
	tx repository.Tx,
	artifact *repository.Artifact,
	version *repository.Version,
) (repository.WorkflowType, []repository.ApprovalTemplateLevel, *repository.ApprovalTemplate, error) {
	templates, err := tx.ListTemplates(ctx, artifact.Kind, true)
	if err != nil {
		return "", nil, nil, err
	}

	var amount *int64
	if version.Content.Quote != nil {
		total := ComputeQuoteTotals(version.Content.Quote).Total
		amount = &total
	}

	for _, tpl := range templates {
		if tpl.Matches(amount) && len(tpl.Levels) > 0 {
			return tpl.WorkflowType, tpl.Levels, tpl, nil
		}
	}
	return repository.WorkflowSimple, defaultLevels(), nil, nil
}

func defaultLevels() []repository.ApprovalTemplateLevel {
	return []repository.ApprovalTemplateLevel{{
		Name:     "Approval",
		Required: true,
		Approvers: []repository.ApprovalTemplateApprover{{
			Type:     repository.ApproverRole,
			Ref:      defaultApproverRole,
			Required: true,
		}},
	}}
}

// validateLevels checks a workflow shape: simple workflows have exactly one
// level, and every level has at least one required approver.
func validateLevels(typ repository.WorkflowType, levels []repository.ApprovalTemplateLevel) error {
	if !typ.Valid() {
		return errors.InvalidInput("workflow_type", "must be simple or multi-level")
	}
	if len(levels) == 0 {
		return errors.InvalidInput("levels", "at least one level is required")
	}
	if typ == repository.WorkflowSimple && len(levels) != 1 {
		return errors.InvalidInput("levels", "a simple workflow has exactly one level")
	}

	for i, l := range levels {
		field := fmt.Sprintf("levels[%d]", i)
		if strings.TrimSpace(l.Name) == "" {
			return errors.InvalidInput(field+".name", "level name is required")
		}
		required := 0
		for j, a := range l.Approvers {
			if !a.Type.Valid() {
				return errors.InvalidInput(fmt.Sprintf("%s.approvers[%d].type", field, j), "must be client, employee or role")
			}
			if strings.TrimSpace(a.Ref) == "" {
				return errors.InvalidInput(fmt.Sprintf("%s.approvers[%d].ref", field, j), "approver reference is required")
			}
			if a.Required {
				required++
			}
		}
		if required == 0 {
			return errors.InvalidInput(field+".approvers", "each level needs at least one required approver")
		}
		for j, c := range l.Checklist {
			if strings.TrimSpace(c.Name) == "" {
				return errors.InvalidInput(fmt.Sprintf("%s.checklist[%d].name", field, j), "checklist item name is required")
			}
		}
	}
	return nil
}

// insertStructure creates levels, approvers and checklist items for wf from
// definitions, with every decision pending and every item unsatisfied.
func insertStructure(
	ctx context.Context,
	tx repository.Tx,
	wf *repository.Workflow,
	defs []repository.ApprovalTemplateLevel,
) error {
	for i, def := range defs {
		level := &repository.Level{
			WorkflowID:  wf.ID,
			StepNumber:  i + 1,
			Name:        def.Name,
			Description: def.Description,
			Required:    def.Required,
			Status:      repository.LevelPending,
		}
		if err := tx.InsertLevel(ctx, level); err != nil {
			return err
		}
		for _, a := range def.Approvers {
			approver := &repository.Approver{
				WorkflowID:  wf.ID,
				LevelID:     level.ID,
				Type:        a.Type,
				Ref:         a.Ref,
				DisplayName: a.DisplayName,
				Required:    a.Required,
				Decision:    repository.DecisionPending,
			}
			if err := tx.InsertApprover(ctx, approver); err != nil {
				return err
			}
		}
		for _, c := range def.Checklist {
			item := &repository.ChecklistItem{
				WorkflowID: wf.ID,
				LevelID:    level.ID,
				Name:       c.Name,
				Category:   c.Category,
				Required:   c.Required,
			}
			if err := tx.InsertChecklistItem(ctx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// structureOf turns an existing workflow back into level definitions, the
// inverse of insertStructure.
func structureOf(
	levels []*repository.Level,
	approvers []*repository.Approver,
	items []*repository.ChecklistItem,
) []repository.ApprovalTemplateLevel {
	defs := make([]repository.ApprovalTemplateLevel, 0, len(levels))
	for _, l := range levels {
		def := repository.ApprovalTemplateLevel{
			Name:        l.Name,
			Description: l.Description,
			Required:    l.Required,
		}
		for _, a := range approvers {
			if a.LevelID == l.ID {
				def.Approvers = append(def.Approvers, repository.ApprovalTemplateApprover{
					Type:        a.Type,
					Ref:         a.Ref,
					DisplayName: a.DisplayName,
					Required:    a.Required,
				})
			}
		}
		for _, item := range items {
			if item.LevelID == l.ID {
				def.Checklist = append(def.Checklist, repository.ApprovalTemplateChecklist{
					Name:     item.Name,
					Category: item.Category,
					Required: item.Required,
				})
			}
		}
		defs = append(defs, def)
	}
	return defs
}
