package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ledgerlink/internal/domain/accounting"
)

// MaintenanceService is the slice of the connection registry the
// maintenance job needs. Satisfied by *connection.Service.
type MaintenanceService interface {
	ListActive(ctx context.Context) ([]*accounting.Connection, error)
	EnsureFresh(ctx context.Context, clientID string, provider accounting.ProviderID) (*accounting.Connection, error)
	Validate(ctx context.Context, clientID string, provider accounting.ProviderID) (bool, error)
}

// MaintainJob keeps one connection healthy: it refreshes the access
// token if it is near expiry, then validates the connection with a
// cheap read so dead refresh tokens surface here instead of on a user
// request.
type MaintainJob struct {
	clientID string
	provider accounting.ProviderID
	service  MaintenanceService
	logger   *zap.Logger
}

func NewMaintainJob(clientID string, provider accounting.ProviderID, service MaintenanceService, logger *zap.Logger) *MaintainJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintainJob{
		clientID: clientID,
		provider: provider,
		service:  service,
		logger:   logger,
	}
}

func (j *MaintainJob) Execute(ctx context.Context) error {
	if _, err := j.service.EnsureFresh(ctx, j.clientID, j.provider); err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}

	valid, err := j.service.Validate(ctx, j.clientID, j.provider)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if !valid {
		j.logger.Warn("connection no longer valid, re-authentication required",
			zap.String("client_id", j.clientID),
			zap.String("provider", string(j.provider)),
		)
		return fmt.Errorf("connection for %s/%s is no longer valid", j.clientID, j.provider)
	}

	return nil
}

func (j *MaintainJob) ClientID() string {
	return j.clientID
}

func (j *MaintainJob) Description() string {
	return fmt.Sprintf("connection maintenance for %s/%s", j.clientID, j.provider)
}

// MaintenanceJobs is a job provider that emits one MaintainJob per
// active connection. Wire it into Config.JobProvider.
func MaintenanceJobs(service MaintenanceService, logger *zap.Logger) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		conns, err := service.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active connections: %w", err)
		}

		jobs := make([]Job, 0, len(conns))
		for _, conn := range conns {
			jobs = append(jobs, NewMaintainJob(conn.ClientID, conn.Provider, service, logger))
		}
		return jobs, nil
	}
}
