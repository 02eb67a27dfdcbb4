package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func TestNotificationPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := NewNotificationPublisher(conn, "", zerolog.Nop())
	fixed := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	p.Publish(context.Background(), NotificationEvent{
		EventType:    EventApprovalRequired,
		ActorID:      "u-1",
		Recipients:   []string{"finance_lead"},
		ResourceType: "expense",
		ResourceID:   "R-1",
		IsActionable: true,
	})

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "notifications.workflow.approval_required", conn.msgs[0].subject)

	var got NotificationEvent
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &got))
	assert.Equal(t, "R-1", got.ResourceID)
	assert.Equal(t, "info", got.Severity)
	assert.True(t, got.OccurredAt.Equal(fixed))
}

func TestNotificationPublisher_FailuresAreLogged(t *testing.T) {
	var buf bytes.Buffer
	conn := &fakeConn{err: fmt.Errorf("nats down")}
	p := NewNotificationPublisher(conn, "events", zerolog.New(&buf))

	p.Publish(context.Background(), NotificationEvent{EventType: EventOrderPicked, ResourceID: "O-1"})

	assert.Contains(t, buf.String(), "events.order_picked")
	assert.Contains(t, buf.String(), "nats down")
}

func TestNotificationPublisher_Disabled(t *testing.T) {
	p := NewNotificationPublisher(nil, "", zerolog.Nop())
	assert.False(t, p.Enabled())
	p.Publish(context.Background(), NotificationEvent{EventType: EventOrderPicked})

	var nilPublisher *NotificationPublisher
	assert.False(t, nilPublisher.Enabled())

	disabled, conn, err := Connect("", "", "test", zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, conn)
	assert.False(t, disabled.Enabled())
}

func TestRoleDirectory_Resolve(t *testing.T) {
	d := NewRoleDirectory(nil)

	tests := []struct {
		claimed string
		want    workflow.Role
		ok      bool
	}{
		{"manager", workflow.RoleSupervisor, true},
		{"admin", workflow.RoleDepartmentHead, true},
		{"CEO", workflow.RoleGeneralManager, true},
		{" hr ", workflow.RoleHRLead, true},
		{"finance", workflow.RoleFinanceLead, true},
		{"finance_lead", workflow.RoleFinanceLead, true},
		{"supervisor", workflow.RoleSupervisor, true},
		{"employee", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.claimed, func(t *testing.T) {
			got, ok := d.Resolve(tt.claimed)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleDirectory_Positions(t *testing.T) {
	d := NewRoleDirectory(map[string]workflow.Role{
		"Team Lead": workflow.RoleSupervisor,
		"manager":   workflow.RoleSupervisor,
		"cfo":       workflow.RoleFinanceLead,
	})
	assert.Equal(t, []string{"manager", "team lead"}, d.Positions(workflow.RoleSupervisor))
	assert.Empty(t, d.Positions(workflow.RoleHRLead))
}
