package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"duruon/internal/models"

	"go.uber.org/zap"
)

// AlertEventsRepository 告警历史仓库（单住户部署，可选启用）
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建告警历史仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// alarmLevelFor 事件类型 → 告警级别
func alarmLevelFor(eventType string) string {
	if eventType == models.EventSoftImmobility {
		return "WARNING"
	}
	return "ALERT"
}

// CreateAlertEvent 记录新告警
func (r *AlertEventsRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEventRecord) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if event.AlarmLevel == "" {
		event.AlarmLevel = alarmLevelFor(event.EventType)
	}

	query := `
		INSERT INTO alert_events (
			event_id,
			event_type,
			alarm_level,
			alarm_status,
			triggered_at,
			repeats,
			trigger_data,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		event.EventID,
		event.EventType,
		event.AlarmLevel,
		event.AlarmStatus,
		event.TriggeredAt,
		event.Repeats,
		event.TriggerData,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	return nil
}

// AcknowledgeAlertEvent 记录用户确认结果
func (r *AlertEventsRepository) AcknowledgeAlertEvent(ctx context.Context, eventID, ackResult string, ackedAt time.Time, repeats int) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if ackResult == "" {
		return fmt.Errorf("ack_result is required")
	}

	query := `
		UPDATE alert_events
		SET alarm_status = 'acknowledged',
		    acknowledged_at = $1,
		    ack_result = $2,
		    repeats = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE event_id = $4
		  AND alarm_status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, ackedAt, ackResult, repeats, eventID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert event not found or already acknowledged: event_id=%s", eventID)
	}

	return nil
}

// GetRecentAlertEvents 按触发时间倒序取最近的告警
func (r *AlertEventsRepository) GetRecentAlertEvents(ctx context.Context, limit int) ([]*models.AlertEventRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT
			event_id,
			event_type,
			alarm_level,
			alarm_status,
			triggered_at,
			acknowledged_at,
			ack_result,
			repeats,
			trigger_data,
			created_at,
			updated_at
		FROM alert_events
		ORDER BY triggered_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert events: %w", err)
	}
	defer rows.Close()

	events := []*models.AlertEventRecord{}
	for rows.Next() {
		var event models.AlertEventRecord
		var ackedAtPtr sql.NullTime
		var ackResult sql.NullString
		var triggerData []byte

		err := rows.Scan(
			&event.EventID,
			&event.EventType,
			&event.AlarmLevel,
			&event.AlarmStatus,
			&event.TriggeredAt,
			&ackedAtPtr,
			&ackResult,
			&event.Repeats,
			&triggerData,
			&event.CreatedAt,
			&event.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}

		if ackedAtPtr.Valid {
			event.AcknowledgedAt = &ackedAtPtr.Time
		}
		if ackResult.Valid {
			event.AckResult = &ackResult.String
		}
		if len(triggerData) > 0 {
			event.TriggerData = string(triggerData)
		} else {
			event.TriggerData = "{}"
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}

	return events, nil
}

// CountAlertEventsSince 统计某时刻以来的告警数量（按类型分组）
func (r *AlertEventsRepository) CountAlertEventsSince(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `
		SELECT event_type, COUNT(*)
		FROM alert_events
		WHERE triggered_at >= $1
		GROUP BY event_type
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count alert events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[eventType] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate count rows: %w", err)
	}

	return counts, nil
}
