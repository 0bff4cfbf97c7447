package remediation_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/RCRA/domain/entity"
	"github.com/pyama86/RCRA/remediation"
)

type mockIncidentRepo struct {
	countResult      int
	countErr         error
	countFingerprint string
	countSince       time.Time

	byFingerprint []entity.Incident
	byLogGroup    []entity.Incident
	scanErr       error
}

func (m *mockIncidentRepo) FindIncidentByID(_ context.Context, id string) (*entity.Incident, error) {
	return nil, nil
}

func (m *mockIncidentRepo) SaveIncident(_ context.Context, _ *entity.Incident) error {
	return nil
}

func (m *mockIncidentRepo) RecentIncidents(_ context.Context, _ int, _ entity.Severity) ([]entity.Incident, error) {
	return nil, nil
}

func (m *mockIncidentRepo) IncidentsSince(_ context.Context, _ time.Time) ([]entity.Incident, error) {
	return nil, nil
}

func (m *mockIncidentRepo) CountByFingerprint(_ context.Context, fingerprint, _ string, since time.Time) (int, error) {
	m.countFingerprint = fingerprint
	m.countSince = since
	return m.countResult, m.countErr
}

func (m *mockIncidentRepo) IncidentsByFingerprint(_ context.Context, _ string, _ time.Time) ([]entity.Incident, error) {
	return m.byFingerprint, m.scanErr
}

func (m *mockIncidentRepo) IncidentsByLogGroup(_ context.Context, _ string, _ time.Time) ([]entity.Incident, error) {
	return m.byLogGroup, m.scanErr
}

func TestRecurrenceCount(t *testing.T) {
	repo := &mockIncidentRepo{countResult: 4}
	tracker := remediation.NewRecurrenceTracker(repo)

	count := tracker.Count(context.Background(), "timeout on orders", "/aws/lambda/orders-api")
	assert.Equal(t, 4, count)
	assert.Equal(t, "timeout on orders", repo.countFingerprint)
	// 24時間の遡及窓
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), repo.countSince, time.Minute)
}

func TestRecurrenceCountEmptyFingerprint(t *testing.T) {
	repo := &mockIncidentRepo{countResult: 4}
	tracker := remediation.NewRecurrenceTracker(repo)

	assert.Equal(t, 0, tracker.Count(context.Background(), "", "/aws/lambda/orders-api"))
	// 空フィンガープリントではストアへ問い合わせない
	assert.Empty(t, repo.countFingerprint)
}

func TestRecurrenceCountStoreFailure(t *testing.T) {
	repo := &mockIncidentRepo{countErr: fmt.Errorf("dynamodb unavailable")}
	tracker := remediation.NewRecurrenceTracker(repo)

	assert.Equal(t, 0, tracker.Count(context.Background(), "timeout on orders", "/aws/lambda/orders-api"))
}

func TestRelatedPrefersFingerprintMatch(t *testing.T) {
	repo := &mockIncidentRepo{
		byFingerprint: []entity.Incident{{ID: "inc-1"}},
		byLogGroup:    []entity.Incident{{ID: "inc-2"}},
	}
	tracker := remediation.NewRecurrenceTracker(repo)

	related, err := tracker.Related(context.Background(), "fp", "/aws/lambda/orders-api")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "inc-1", related[0].ID)
}

func TestRelatedFallsBackToScope(t *testing.T) {
	repo := &mockIncidentRepo{
		byLogGroup: []entity.Incident{{ID: "inc-2"}},
	}
	tracker := remediation.NewRecurrenceTracker(repo)

	related, err := tracker.Related(context.Background(), "fp", "/aws/lambda/orders-api")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "inc-2", related[0].ID)
}

func TestRelatedSortsAndCaps(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var incidents []entity.Incident
	for i := 0; i < 12; i++ {
		incidents = append(incidents, entity.Incident{
			ID:        fmt.Sprintf("inc-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	repo := &mockIncidentRepo{byFingerprint: incidents}
	tracker := remediation.NewRecurrenceTracker(repo)

	related, err := tracker.Related(context.Background(), "fp", "/aws/lambda/orders-api")
	require.NoError(t, err)
	require.Len(t, related, 10)
	// 新しい順
	assert.Equal(t, "inc-11", related[0].ID)
	assert.Equal(t, "inc-2", related[9].ID)
}
