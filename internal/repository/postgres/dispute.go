package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ticketry/dispute-api/internal/model"
	"github.com/ticketry/dispute-api/internal/repository"
	apperrors "github.com/ticketry/dispute-api/pkg/errors"
)

const uniqueViolation = "23505"

var disputeColumns = `
	id, ticket_id, user_id, dispute_type, priority, status,
	subject, description, tags, metadata,
	evidence, escalation_level, escalation_history, communication_history,
	admin_id, admin_response, resolution, refund_amount, refund_status,
	last_activity_at, resolved_at, created_at, updated_at
`

var disputeSortColumns = map[string]string{
	"created_at":       "created_at",
	"updated_at":       "updated_at",
	"last_activity_at": "last_activity_at",
	"priority":         "priority",
	"status":           "status",
}

type disputeRepository struct {
	*BaseRepository
}

func NewDisputeRepository(base *BaseRepository) repository.DisputeRepository {
	return &disputeRepository{BaseRepository: base}
}

func (r *disputeRepository) Create(ctx context.Context, dispute *model.Dispute) error {
	query := `
		INSERT INTO disputes (
			id, ticket_id, user_id, dispute_type, priority, status,
			subject, description, tags, metadata,
			evidence, escalation_level, escalation_history, communication_history,
			admin_id, admin_response, resolution, refund_amount, refund_status,
			last_activity_at, resolved_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22, $23
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		dispute.ID,
		dispute.TicketID,
		dispute.UserID,
		dispute.Type,
		dispute.Priority,
		dispute.Status,
		dispute.Subject,
		dispute.Description,
		dispute.Tags,
		dispute.Metadata,
		dispute.Evidence,
		dispute.EscalationLevel,
		dispute.EscalationHistory,
		dispute.CommunicationHistory,
		dispute.AdminID,
		dispute.AdminResponse,
		dispute.Resolution,
		dispute.RefundAmount,
		dispute.RefundStatus,
		dispute.LastActivityAt,
		dispute.ResolvedAt,
		dispute.CreatedAt,
		dispute.UpdatedAt,
	)
	if err != nil {
		// The partial unique index on active disputes backs the
		// single-active-dispute-per-ticket invariant against the
		// check-then-insert race.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperrors.Conflict("an active dispute already exists for this ticket", err)
		}
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

func (r *disputeRepository) Get(ctx context.Context, id uuid.UUID) (*model.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`

	var dispute model.Dispute
	if err := r.db.GetContext(ctx, &dispute, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("dispute", err)
		}
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	return &dispute, nil
}

func (r *disputeRepository) Update(ctx context.Context, dispute *model.Dispute) error {
	query := `
		UPDATE disputes
		SET priority = $1, status = $2, subject = $3, description = $4,
			tags = $5, metadata = $6, evidence = $7,
			escalation_level = $8, escalation_history = $9, communication_history = $10,
			admin_id = $11, admin_response = $12, resolution = $13,
			refund_amount = $14, refund_status = $15,
			last_activity_at = $16, resolved_at = $17, updated_at = $18
		WHERE id = $19
	`
	dispute.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		dispute.Priority,
		dispute.Status,
		dispute.Subject,
		dispute.Description,
		dispute.Tags,
		dispute.Metadata,
		dispute.Evidence,
		dispute.EscalationLevel,
		dispute.EscalationHistory,
		dispute.CommunicationHistory,
		dispute.AdminID,
		dispute.AdminResponse,
		dispute.Resolution,
		dispute.RefundAmount,
		dispute.RefundStatus,
		dispute.LastActivityAt,
		dispute.ResolvedAt,
		dispute.UpdatedAt,
		dispute.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update dispute: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("dispute", nil)
	}
	return nil
}

func (r *disputeRepository) List(ctx context.Context, filter *model.DisputeFilter) ([]*model.Dispute, int64, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	argCount := 1

	if filter.UserID != nil {
		where = append(where, fmt.Sprintf("user_id = $%d", argCount))
		args = append(args, *filter.UserID)
		argCount++
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argCount))
		args = append(args, *filter.Status)
		argCount++
	}
	if filter.Type != nil {
		where = append(where, fmt.Sprintf("dispute_type = $%d", argCount))
		args = append(args, *filter.Type)
		argCount++
	}
	if filter.Priority != nil {
		where = append(where, fmt.Sprintf("priority = $%d", argCount))
		args = append(args, *filter.Priority)
		argCount++
	}
	if filter.StartDate != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argCount))
		args = append(args, *filter.StartDate)
		argCount++
	}
	if filter.EndDate != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", argCount))
		args = append(args, *filter.EndDate)
		argCount++
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf(
			"(subject ILIKE $%d OR description ILIKE $%d OR communication_history::text ILIKE $%d)",
			argCount, argCount, argCount))
		args = append(args, "%"+filter.Search+"%")
		argCount++
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := "SELECT COUNT(*) FROM disputes WHERE " + whereClause
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count disputes: %w", err)
	}

	sortColumn, ok := disputeSortColumns[filter.SortBy]
	if !ok {
		sortColumn = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		direction = "ASC"
	}

	filter.Normalize()
	query := fmt.Sprintf(
		"SELECT %s FROM disputes WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		disputeColumns, whereClause, sortColumn, direction, argCount, argCount+1,
	)
	args = append(args, filter.Limit, filter.Offset())

	var disputes []*model.Dispute
	if err := r.db.SelectContext(ctx, &disputes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list disputes: %w", err)
	}
	return disputes, total, nil
}

func (r *disputeRepository) HasActiveDispute(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM disputes
			WHERE ticket_id = $1
			AND status NOT IN ('resolved', 'rejected', 'approved', 'cancelled', 'closed')
		)
	`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, ticketID); err != nil {
		return false, fmt.Errorf("failed to check active dispute: %w", err)
	}
	return exists, nil
}

func (r *disputeRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*model.Dispute, error) {
	query := `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE status NOT IN ('resolved', 'rejected', 'approved', 'cancelled', 'closed')
		AND last_activity_at < $1
		ORDER BY last_activity_at ASC
	`
	var disputes []*model.Dispute
	if err := r.db.SelectContext(ctx, &disputes, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list stale disputes: %w", err)
	}
	return disputes, nil
}

func (r *disputeRepository) Analytics(ctx context.Context, startDate, endDate *time.Time) (*model.DisputeAnalytics, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	argCount := 1

	if startDate != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argCount))
		args = append(args, *startDate)
		argCount++
	}
	if endDate != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", argCount))
		args = append(args, *endDate)
		argCount++
	}
	whereClause := strings.Join(where, " AND ")

	analytics := &model.DisputeAnalytics{
		ByStatus:   make(map[model.DisputeStatus]int64),
		ByType:     make(map[model.DisputeType]int64),
		ByPriority: make(map[model.DisputePriority]int64),
	}

	var grouped []struct {
		Status   model.DisputeStatus   `db:"status"`
		Type     model.DisputeType     `db:"dispute_type"`
		Priority model.DisputePriority `db:"priority"`
		Count    int64                 `db:"count"`
	}
	query := fmt.Sprintf(`
		SELECT status, dispute_type, priority, COUNT(*) AS count
		FROM disputes WHERE %s
		GROUP BY status, dispute_type, priority
	`, whereClause)
	if err := r.db.SelectContext(ctx, &grouped, query, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate disputes: %w", err)
	}
	for _, row := range grouped {
		analytics.TotalDisputes += row.Count
		analytics.ByStatus[row.Status] += row.Count
		analytics.ByType[row.Type] += row.Count
		analytics.ByPriority[row.Priority] += row.Count
	}

	var resolution struct {
		AvgDays    sql.NullFloat64 `db:"avg_days"`
		MedianDays sql.NullFloat64 `db:"median_days"`
	}
	resolutionQuery := fmt.Sprintf(`
		SELECT
			AVG(EXTRACT(EPOCH FROM (resolved_at - created_at)) / 86400) AS avg_days,
			PERCENTILE_CONT(0.5) WITHIN GROUP (
				ORDER BY EXTRACT(EPOCH FROM (resolved_at - created_at)) / 86400
			) AS median_days
		FROM disputes WHERE %s AND resolved_at IS NOT NULL
	`, whereClause)
	if err := r.db.GetContext(ctx, &resolution, resolutionQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate resolution times: %w", err)
	}
	analytics.AvgResolutionDays = resolution.AvgDays.Float64
	analytics.MedianResolutionDays = resolution.MedianDays.Float64

	var escalated int64
	escalatedQuery := fmt.Sprintf(
		"SELECT COUNT(*) FROM disputes WHERE %s AND escalation_level > 0", whereClause)
	if err := r.db.GetContext(ctx, &escalated, escalatedQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count escalated disputes: %w", err)
	}
	if analytics.TotalDisputes > 0 {
		analytics.EscalationRate = float64(escalated) / float64(analytics.TotalDisputes) * 100
	}

	return analytics, nil
}
