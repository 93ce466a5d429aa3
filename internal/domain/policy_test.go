package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestWritableTicketFields(t *testing.T) {
	tests := []struct {
		name        string
		role        Role
		isRequester bool
		isAssignee  bool
		want        []string
	}{
		{
			name:        "requester user owns content fields",
			role:        RoleUser,
			isRequester: true,
			want:        []string{FieldTitle, FieldDescription},
		},
		{
			name: "non-requester user has no access",
			role: RoleUser,
			want: nil,
		},
		{
			name:       "assignee agent owns workflow fields",
			role:       RoleAgent,
			isAssignee: true,
			want:       []string{FieldStatus, FieldAssigneeID, FieldPriority},
		},
		{
			name: "non-assignee agent has no access",
			role: RoleAgent,
			want: nil,
		},
		{
			name: "admin owns everything regardless of relationship",
			role: RoleAdmin,
			want: []string{FieldTitle, FieldDescription, FieldStatus, FieldAssigneeID, FieldPriority, FieldSLAMinutes},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WritableTicketFields(tt.role, tt.isRequester, tt.isAssignee)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Len(t, got, len(tt.want))
			for _, field := range tt.want {
				assert.True(t, got[field], "expected %s to be writable", field)
			}
		})
	}
}

func TestBreached(t *testing.T) {
	now := mustParse(t, "2025-06-01T12:00:00Z")
	past := mustParse(t, "2025-06-01T11:00:00Z")
	future := mustParse(t, "2025-06-01T13:00:00Z")

	open := Ticket{Status: TicketStatusOpen, DueAt: &past}
	assert.True(t, open.Breached(now))

	notDue := Ticket{Status: TicketStatusOpen, DueAt: &future}
	assert.False(t, notDue.Breached(now))

	closed := Ticket{Status: TicketStatusClosed, DueAt: &past}
	assert.False(t, closed.Breached(now))

	noDeadline := Ticket{Status: TicketStatusOpen}
	assert.False(t, noDeadline.Breached(now))

	exactlyDue := Ticket{Status: TicketStatusInProgress, DueAt: &now}
	assert.True(t, exactlyDue.Breached(now))
}
