package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/jabbala/tenantfair/dlq"
	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/tier"
)

// ── DLQ entry model ───────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:tenantfair_dlq"`

	ID         string     `bun:"id,pk"`
	RequestID  string     `bun:"request_id,notnull"`
	TenantID   string     `bun:"tenant_id,notnull"`
	Tier       string     `bun:"tier,notnull"`
	Payload    []byte     `bun:"payload,type:bytea"`
	Reason     string     `bun:"reason,notnull,default:''"`
	ArrivalAt  time.Time  `bun:"arrival_at,notnull"`
	DeadlineAt time.Time  `bun:"deadline_at,notnull"`
	RecordedAt time.Time  `bun:"recorded_at,notnull,default:current_timestamp"`
	ReplayedAt *time.Time `bun:"replayed_at"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:         e.ID.String(),
		RequestID:  e.RequestID.String(),
		TenantID:   e.TenantID,
		Tier:       e.Tier.String(),
		Payload:    e.Payload,
		Reason:     e.Reason,
		ArrivalAt:  e.ArrivalAt,
		DeadlineAt: e.DeadlineAt,
		RecordedAt: e.RecordedAt,
		ReplayedAt: e.ReplayedAt,
	}
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("tenantfair/bun: parse dlq id %q: %w", m.ID, err)
	}

	e := &dlq.Entry{
		ID:         parsedID,
		TenantID:   m.TenantID,
		Payload:    m.Payload,
		Reason:     m.Reason,
		ArrivalAt:  m.ArrivalAt,
		DeadlineAt: m.DeadlineAt,
		RecordedAt: m.RecordedAt,
		ReplayedAt: m.ReplayedAt,
	}

	if m.RequestID != "" {
		parsedRequest, rErr := id.ParseRequestID(m.RequestID)
		if rErr == nil {
			e.RequestID = parsedRequest
		}
	}
	if t, tErr := tier.Parse(m.Tier); tErr == nil {
		e.Tier = t
	}

	return e, nil
}
