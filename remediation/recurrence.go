package remediation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pyama86/RCRA/domain/entity"
	"github.com/pyama86/RCRA/domain/repository"
)

const (
	// 再発判定は直近24時間、関連インシデント検索は直近7日を見る
	recurrenceWindow = 24 * time.Hour
	relatedWindow    = 7 * 24 * time.Hour

	relatedLimit = 10
)

// RecurrenceTracker は同一フィンガープリントのインシデント再発を数える
type RecurrenceTracker struct {
	repo  repository.IncidentRepository
	nowFn func() time.Time
}

func NewRecurrenceTracker(repo repository.IncidentRepository) *RecurrenceTracker {
	return &RecurrenceTracker{
		repo:  repo,
		nowFn: time.Now,
	}
}

// Count は24時間以内に同じフィンガープリントかつ同じスコープで起きた件数を返す。
// 再発数は最適化シグナルなので、ストア障害時は0に倒してエラーは伝播させない
func (t *RecurrenceTracker) Count(ctx context.Context, fingerprint, logGroup string) int {
	if fingerprint == "" {
		return 0
	}

	since := t.nowFn().Add(-recurrenceWindow)
	count, err := t.repo.CountByFingerprint(ctx, fingerprint, logGroup, since)
	if err != nil {
		slog.Warn("Failed to count recurrences, treating as non-recurring",
			slog.String("fingerprint", fingerprint),
			slog.String("log_group", logGroup),
			slog.Any("err", err))
		return 0
	}
	return count
}

// Related は7日以内の関連インシデントを新しい順に最大10件返す。
// フィンガープリント一致が無ければスコープ一致にフォールバックする
func (t *RecurrenceTracker) Related(ctx context.Context, fingerprint, logGroup string) ([]entity.Incident, error) {
	since := t.nowFn().Add(-relatedWindow)

	var incidents []entity.Incident
	if fingerprint != "" {
		found, err := t.repo.IncidentsByFingerprint(ctx, fingerprint, since)
		if err != nil {
			return nil, err
		}
		incidents = found
	}

	if len(incidents) == 0 {
		found, err := t.repo.IncidentsByLogGroup(ctx, logGroup, since)
		if err != nil {
			return nil, err
		}
		incidents = found
	}

	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].CreatedAt.After(incidents[j].CreatedAt)
	})
	if len(incidents) > relatedLimit {
		incidents = incidents[:relatedLimit]
	}
	return incidents, nil
}
