package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pyama86/RCRA/domain/entity"
	"github.com/pyama86/RCRA/domain/repository"
	"github.com/pyama86/RCRA/remediation"
)

// Pipeline は1つのログイベントを解析から通知まで直列に処理する。
// インシデント間の並行性はあるが、1インシデントの処理は分岐しない
type Pipeline struct {
	repo     repository.Repository
	analyzer repository.AnalyzerRepository
	notifier repository.NotificationRepository
	tracker  *remediation.RecurrenceTracker
	executor *remediation.Executor
	nowFn    func() time.Time
}

func NewPipeline(
	repo repository.Repository,
	analyzer repository.AnalyzerRepository,
	notifier repository.NotificationRepository,
	executor *remediation.Executor,
) *Pipeline {
	return &Pipeline{
		repo:     repo,
		analyzer: analyzer,
		notifier: notifier,
		tracker:  remediation.NewRecurrenceTracker(repo),
		executor: executor,
		nowFn:    time.Now,
	}
}

func (p *Pipeline) Tracker() *remediation.RecurrenceTracker {
	return p.tracker
}

// Process は必ず修復記録付きのインシデントを永続化する。
// パイプラインにとって致命的なのはストアへの書き込み失敗だけで、
// それ以外の境界呼び出しの失敗は安全なデフォルトへ畳み込まれる
func (p *Pipeline) Process(ctx context.Context, ev entity.LogEvent) (*entity.Incident, error) {
	incidentID := "inc-" + uuid.NewString()
	slog.Info("Processing incident",
		slog.String("incident_id", incidentID),
		slog.String("log_group", ev.LogGroup))

	analysis := p.analyze(ctx, ev.Message)

	incident := &entity.Incident{
		ID:          incidentID,
		CreatedAt:   p.nowFn().UTC(),
		LogGroup:    ev.LogGroup,
		LogStream:   ev.LogStream,
		RawMessage:  ev.Message,
		Fingerprint: entity.NewFingerprint(analysis.Summary),
		Analysis:    *analysis,
		Status:      entity.StatusOpen,
	}

	recurrenceCount := p.tracker.Count(ctx, incident.Fingerprint, incident.LogGroup)
	snapshot := p.configSnapshot(ctx)

	decision := remediation.Evaluate(incident, snapshot, recurrenceCount)
	slog.Info("Eligibility decided",
		slog.String("incident_id", incidentID),
		slog.String("disposition", string(decision.Disposition)),
		slog.String("scenario", string(decision.Scenario)),
		slog.Int("recurrence_count", recurrenceCount))

	if decision.Disposition == remediation.DispositionProceed {
		result := p.executor.Remediate(ctx, decision.Scenario, incident.LogGroup)
		result.RecurrenceCount = recurrenceCount
		incident.Remediation = result
	} else {
		incident.Remediation = remediation.BlockedRemediation(decision)
	}

	if err := p.repo.SaveIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}

	if p.notifier != nil {
		p.notifier.NotifyIncident(incident)
	}

	return incident, nil
}

// ErrNotPendingApproval は承認待ちでないインシデントへの承認要求を示す
var ErrNotPendingApproval = errors.New("remediation is not pending approval")

// Approve は承認待ちのインシデントへ修復を実行し、承認者を記録する
func (p *Pipeline) Approve(ctx context.Context, incident *entity.Incident, approvedBy string) error {
	if incident.Remediation == nil || !incident.Remediation.Blocked() {
		return fmt.Errorf("incident %s: %w", incident.ID, ErrNotPendingApproval)
	}

	scenario := incident.Remediation.Scenario
	if scenario == "" {
		scenario = remediation.Classify(incident.RawMessage, incident.Analysis)
	}

	result := p.executor.Remediate(ctx, scenario, incident.LogGroup)
	result.RecurrenceCount = incident.Remediation.RecurrenceCount
	result.ApprovedBy = approvedBy
	result.ApprovedAt = p.nowFn().UTC()
	incident.Remediation = result

	if err := p.repo.SaveIncident(ctx, incident); err != nil {
		return fmt.Errorf("failed to save incident: %w", err)
	}
	return nil
}

// 解析が使えない・失敗した場合はUNKNOWN重大度で代替する。
// サマリが空になるためフィンガープリントも空になり、再発0件扱いになる
func (p *Pipeline) analyze(ctx context.Context, rawMessage string) *entity.Analysis {
	if p.analyzer == nil {
		return unanalyzed()
	}
	analysis, err := p.analyzer.AnalyzeLog(ctx, rawMessage)
	if err != nil {
		slog.Warn("Failed to analyze log, substituting default analysis", slog.Any("err", err))
		return unanalyzed()
	}
	return analysis
}

func unanalyzed() *entity.Analysis {
	return &entity.Analysis{
		Severity: entity.SeverityUnknown,
		Tags:     []string{"unanalyzed"},
	}
}

// 設定は評価開始時に1度だけ読むスナップショット。
// クリティカルリストの読み出し失敗だけは承認必須側へ倒す
func (p *Pipeline) configSnapshot(ctx context.Context) remediation.ConfigSnapshot {
	snapshot := remediation.ConfigSnapshot{}

	critical, err := p.repo.CriticalFunctions(ctx)
	if err != nil {
		slog.Warn("Failed to read critical functions, requiring manual approval", slog.Any("err", err))
		snapshot.CriticalLookupFailed = true
	}
	snapshot.CriticalFunctions = critical

	policies, err := p.repo.ScenarioPolicies(ctx)
	if err != nil {
		slog.Warn("Failed to read scenario policies, using defaults", slog.Any("err", err))
		policies = entity.DefaultScenarioPolicies()
	}
	snapshot.ScenarioPolicies = policies

	return snapshot
}
