package dispute

import (
	"context"
	"time"

	"github.com/ticketry/dispute-api/internal/model"
	apperrors "github.com/ticketry/dispute-api/pkg/errors"
)

// Analytics computes read-only rollups over the dispute store within
// an optional date window. A window with no disputes reports zeros.
func (s *service) Analytics(ctx context.Context, startDate, endDate *time.Time) (*model.DisputeAnalytics, error) {
	if startDate != nil && endDate != nil && endDate.Before(*startDate) {
		return nil, apperrors.Validation("end date must not be before start date", nil)
	}

	analytics, err := s.repo.Analytics(ctx, startDate, endDate)
	if err != nil {
		return nil, err
	}

	if analytics.ByStatus == nil {
		analytics.ByStatus = map[model.DisputeStatus]int64{}
	}
	if analytics.ByType == nil {
		analytics.ByType = map[model.DisputeType]int64{}
	}
	if analytics.ByPriority == nil {
		analytics.ByPriority = map[model.DisputePriority]int64{}
	}
	return analytics, nil
}
