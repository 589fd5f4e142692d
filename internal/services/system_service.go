package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ratnakart/api/internal/domain"
	"github.com/ratnakart/api/internal/repositories"
)

// ErrSystemUnavailable is returned when the health report cannot be collected.
var ErrSystemUnavailable = errors.New("system: unavailable")

// SystemServiceDeps wires the collaborators required by the system service.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
}

type systemService struct {
	health repositories.HealthRepository
}

// NewSystemService constructs the operational status service.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	return &systemService{health: deps.Health}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}
	return report, nil
}
