package repository

import (
	"context"
	"time"

	"github.com/pyama86/RCRA/domain/entity"
)

type IncidentRepository interface {
	FindIncidentByID(context.Context, string) (*entity.Incident, error)
	SaveIncident(context.Context, *entity.Incident) error
	RecentIncidents(ctx context.Context, limit int, severity entity.Severity) ([]entity.Incident, error)
	IncidentsSince(context.Context, time.Time) ([]entity.Incident, error)
	CountByFingerprint(ctx context.Context, fingerprint, logGroup string, since time.Time) (int, error)
	IncidentsByFingerprint(ctx context.Context, fingerprint string, since time.Time) ([]entity.Incident, error)
	IncidentsByLogGroup(ctx context.Context, logGroup string, since time.Time) ([]entity.Incident, error)
}

type ConfigRecordRepository interface {
	CriticalFunctions(context.Context) ([]string, error)
	SaveCriticalFunctions(context.Context, []string) error
	ScenarioPolicies(context.Context) (map[entity.Scenario]bool, error)
	SaveScenarioPolicies(context.Context, map[entity.Scenario]bool) error
}

type Repository interface {
	IncidentRepository
	ConfigRecordRepository
}

type RepositoryFacade struct {
	IncidentRepository
	ConfigRecordRepository
}

func NewRepository(incidentRepository IncidentRepository, configRecordRepository ConfigRecordRepository) Repository {
	return RepositoryFacade{
		IncidentRepository:     incidentRepository,
		ConfigRecordRepository: configRecordRepository,
	}
}

type AnalyzerRepository interface {
	AnalyzeLog(ctx context.Context, rawMessage string) (*entity.Analysis, error)
}

type NotificationRepository interface {
	NotifyIncident(incident *entity.Incident)
}

type FunctionConfigRepository interface {
	FunctionConfig(ctx context.Context, name string) (*entity.FunctionConfig, error)
	UpdateFunctionTimeout(ctx context.Context, name string, seconds int32) error
	UpdateFunctionMemory(ctx context.Context, name string, megabytes int32) error
	UpdateFunctionEnvironment(ctx context.Context, name string, env map[string]string) error
}

type AlarmRepository interface {
	CreateThrottleAlarm(ctx context.Context, resource string) error
}

type LogEventRepository interface {
	ErrorEvents(ctx context.Context, logGroup string, since time.Time) ([]entity.LogEvent, error)
}

type PostMortemExporter interface {
	ExportPostMortem(ctx context.Context, title, body string) (string, error)
}
