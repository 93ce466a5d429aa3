package domain

// Writable ticket field names as they appear on the wire.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldStatus      = "status"
	FieldAssigneeID  = "assignee_id"
	FieldPriority    = "priority"
	FieldSLAMinutes  = "sla_minutes"
)

// WritableTicketFields returns the set of ticket fields the actor may
// modify, keyed on role and the actor's relationship to the ticket. A nil
// result means the actor has no write access at all and the request must be
// rejected outright; an authorized actor submitting only fields outside
// this set is a validation failure, not a permission one.
func WritableTicketFields(role Role, isRequester, isAssignee bool) map[string]bool {
	switch {
	case role == RoleAdmin:
		return map[string]bool{
			FieldTitle:       true,
			FieldDescription: true,
			FieldStatus:      true,
			FieldAssigneeID:  true,
			FieldPriority:    true,
			FieldSLAMinutes:  true,
		}
	case role == RoleAgent && isAssignee:
		return map[string]bool{
			FieldStatus:     true,
			FieldAssigneeID: true,
			FieldPriority:   true,
		}
	case role == RoleUser && isRequester:
		return map[string]bool{
			FieldTitle:       true,
			FieldDescription: true,
		}
	default:
		return nil
	}
}
