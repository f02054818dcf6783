package accounts

import "github.com/google/uuid"

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// IsSelf reports whether the actor targets its own account.
func (a Actor) IsSelf(target uuid.UUID) bool {
	return a.ID != uuid.Nil && a.ID == target
}

// Action names an operation subject to authorization.
type Action string

const (
	ActionViewAccount     Action = "account.view"
	ActionUpdateProfile   Action = "profile.update"
	ActionDeactivate      Action = "account.deactivate"
	ActionReactivate      Action = "account.reactivate"
	ActionRequestDeletion Action = "account.request_deletion"
	ActionDelete          Action = "account.delete"
	ActionCreateAdmin     Action = "admin.create"
	ActionUpdateRole      Action = "account.update_role"
)

// Actions lists every action Allow decides on.
func Actions() []Action {
	return []Action{
		ActionViewAccount,
		ActionUpdateProfile,
		ActionDeactivate,
		ActionReactivate,
		ActionRequestDeletion,
		ActionDelete,
		ActionCreateAdmin,
		ActionUpdateRole,
	}
}

// IsSelfScoped reports whether a non admin may perform the action on its own account.
func (a Action) IsSelfScoped() bool {
	switch a {
	case ActionViewAccount, ActionUpdateProfile, ActionDeactivate, ActionRequestDeletion:
		return true
	default:
		return false
	}
}

// Allow decides whether an actor with role and id may perform action on target.
// Admins may perform any known action on any target. Users may only perform
// self-scoped actions on their own account. Unknown roles and actions are denied.
func Allow(role Role, actorID, targetID uuid.UUID, action Action) bool {
	switch role {
	case RoleAdmin:
		return action.known()
	case RoleUser:
		return action.IsSelfScoped() && actorID != uuid.Nil && actorID == targetID
	default:
		return false
	}
}

// allowDeletionRequest only admits the account owner, admins included.
func allowDeletionRequest(actor Actor, target uuid.UUID) bool {
	return Allow(actor.Role, actor.ID, target, ActionRequestDeletion) && actor.IsSelf(target)
}

func (a Action) known() bool {
	for _, action := range Actions() {
		if action == a {
			return true
		}
	}
	return false
}
