package ports

import (
	"context"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// AdminHandle is the in-process surface an (out-of-scope) HTTP boundary
// would call through. admin.Handle implements it over the per-account
// Coordinators and the shared Deployment Gate; nothing in this module ever
// serves it over the network.
type AdminHandle interface {
	PauseAll(ctx context.Context, operator, reason string) error
	ResumeAll(ctx context.Context, operator, reason string) error
	ForceCloseAll(ctx context.Context, reason domain.EmergencyReason, operator, note string) error
	ResetEmergencyStop(ctx context.Context, accountID, operator string) error

	SetGovernance(ctx context.Context, accountID string, policy domain.GovernancePolicy, reason, operator string) error

	PutDeployments(ctx context.Context, merge bool, deployments []domain.Deployment) error
	EnableDeployment(ctx context.Context, deploymentID string) error
	DisableDeployment(ctx context.Context, deploymentID string) error

	HealthCheck(ctx context.Context) (domain.SystemStatus, error)
	DailyStats(ctx context.Context, accountID string) (domain.DailyStats, error)
}
