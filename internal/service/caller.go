package service

import (
	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

// Caller types.
const (
	CallerEmployee = "employee"
	CallerClient   = "client"
)

// RoleAdmin may act on behalf of any approver.
const RoleAdmin = "admin"

// Caller is the authenticated identity of a request. It is trusted as given;
// authentication happens upstream.
type Caller struct {
	ID   string
	Role string
	Type string // employee | client; empty means employee
}

// IsAdmin reports whether the caller holds the admin role.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// IsClient reports whether the caller is a client contact.
func (c Caller) IsClient() bool { return c.Type == CallerClient }

// AuthorType maps the caller to the comment author type.
func (c Caller) AuthorType() repository.ApproverType {
	if c.IsClient() {
		return repository.ApproverClient
	}
	return repository.ApproverEmployee
}

// requireIdentity rejects anonymous callers.
func requireIdentity(c Caller) error {
	if c.ID == "" {
		return errors.Forbidden("caller identity is required")
	}
	return nil
}

// requireStaff rejects anonymous and client callers. Workflow management is
// reserved to employees.
func requireStaff(c Caller) error {
	if err := requireIdentity(c); err != nil {
		return err
	}
	if c.IsClient() {
		return errors.Forbidden("clients may not manage approval workflows")
	}
	return nil
}

// assertCanAct checks that the caller is the approver, holds the approver's
// role, or is an admin.
func assertCanAct(c Caller, a *repository.Approver) error {
	if err := requireIdentity(c); err != nil {
		return err
	}
	if c.IsAdmin() {
		return nil
	}
	switch a.Type {
	case repository.ApproverRole:
		if c.Role != "" && c.Role == a.Ref {
			return nil
		}
	case repository.ApproverClient:
		if c.IsClient() && c.ID == a.Ref {
			return nil
		}
	default:
		if !c.IsClient() && c.ID == a.Ref {
			return nil
		}
	}
	return errors.Forbidden("caller is not authorized to act for this approver")
}
