package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"workplan/internal/db"
	"workplan/internal/domain"
)

// Entity kinds recorded in the event log.
const (
	KindCampus         = "campus"
	KindProgram        = "program"
	KindActor          = "actor"
	KindPeriod         = "period"
	KindPlan           = "plan"
	KindPlanReport     = "plan_report"
	KindIndicator      = "indicator_report"
	KindTemplate       = "template"
	KindTemplateReport = "template_report"
	KindVersion        = "report_version"
	KindSniesTemplate  = "snies_template"
	KindSniesReport    = "snies_report"
	KindConfig         = "config"
)

type Writer struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction so it commits or
// rolls back with the mutation it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, campusID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := domain.FormatTime(w.Now())
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,campus_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, nullable(campusID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
