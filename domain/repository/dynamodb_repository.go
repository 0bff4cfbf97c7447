package repository

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Songmu/retry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/guregu/dynamo/v2"
	ttlcache "github.com/jellydator/ttlcache/v3"
	"github.com/pyama86/RCRA/domain/entity"
)

var incidentsTable = "RCRARootCauseTable"

func init() {
	if os.Getenv("DYNAMO_INCIDENTS_TABLE") != "" {
		incidentsTable = os.Getenv("DYNAMO_INCIDENTS_TABLE")
	}
}

// 設定レコードはインシデントと同じテーブルに予約キーで同居する
const (
	criticalFunctionsKey = "CONFIG_CRITICAL_FUNCTIONS"
	scenarioPoliciesKey  = "CONFIG_SCENARIO_POLICIES"

	// インシデントIDはすべてこのプレフィックスを持つので、
	// スキャン時に設定レコードを除外できる
	incidentIDPrefix = "inc-"
)

type criticalFunctionsRecord struct {
	ID        string   `dynamo:"incident_id,hash"`
	Functions []string `dynamo:"functions"`
}

type scenarioPoliciesRecord struct {
	ID       string          `dynamo:"incident_id,hash"`
	Policies map[string]bool `dynamo:"policies"`
}

func NewDynamoDBRepository() (*DynamoDBRepository, error) {
	var db *dynamo.DB
	if os.Getenv("DYNAMO_LOCAL") != "" {
		cfg, err := config.LoadDefaultConfig(context.TODO(),
			config.WithRegion("dummy"),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "dummy")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
		db = dynamo.New(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String("http://localhost:8000")
		},
		)

		err = setupDdbSchema(db)
		if err != nil {
			return nil, fmt.Errorf("failed to setup schema: %v", err)
		}
	} else {
		cfg, err := config.LoadDefaultConfig(context.TODO())
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
		db = dynamo.New(cfg)
	}

	r := &DynamoDBRepository{
		db:            db,
		criticalCache: ttlcache.New(ttlcache.WithTTL[string, []string](time.Minute)),
		policyCache:   ttlcache.New(ttlcache.WithTTL[string, map[string]bool](time.Minute)),
	}
	go r.criticalCache.Start()
	go r.policyCache.Start()
	return r, nil
}

func setupDdbSchema(db *dynamo.DB) error {
	t := db.Table(incidentsTable)
	_, err := t.Describe().Run(context.TODO())
	if err != nil {

		input := db.CreateTable(incidentsTable, entity.Incident{}).
			Provision(10, 10)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return input.Run(ctx)
	}
	return nil
}

type DynamoDBRepository struct {
	db            *dynamo.DB
	criticalCache *ttlcache.Cache[string, []string]
	policyCache   *ttlcache.Cache[string, map[string]bool]
}

func (r *DynamoDBRepository) FindIncidentByID(ctx context.Context, id string) (*entity.Incident, error) {
	incident := &entity.Incident{}
	err := retry.Retry(3, time.Second, func() error {
		return r.db.Table(incidentsTable).Get("incident_id", id).One(ctx, incident)
	})
	if err != nil {
		if err == dynamo.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return incident, nil
}

func (r *DynamoDBRepository) SaveIncident(ctx context.Context, incident *entity.Incident) error {
	return retry.Retry(3, time.Second, func() error {
		return r.db.Table(incidentsTable).Put(incident).Run(ctx)
	})
}

func (r *DynamoDBRepository) RecentIncidents(ctx context.Context, limit int, severity entity.Severity) ([]entity.Incident, error) {
	var incidents []entity.Incident
	scan := r.db.Table(incidentsTable).Scan().
		Filter("begins_with('incident_id', ?)", incidentIDPrefix)
	if severity != "" {
		scan = scan.Filter("'analysis'.'severity' = ?", severity)
	}
	err := retry.Retry(3, time.Second, func() error {
		incidents = incidents[:0]
		return scan.All(ctx, &incidents)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].CreatedAt.After(incidents[j].CreatedAt)
	})
	if limit > 0 && len(incidents) > limit {
		incidents = incidents[:limit]
	}
	return incidents, nil
}

func (r *DynamoDBRepository) IncidentsSince(ctx context.Context, since time.Time) ([]entity.Incident, error) {
	var incidents []entity.Incident
	err := retry.Retry(3, time.Second, func() error {
		incidents = incidents[:0]
		return r.db.Table(incidentsTable).Scan().
			Filter("begins_with('incident_id', ?)", incidentIDPrefix).
			Filter("'created_at' > ?", since).
			All(ctx, &incidents)
	})
	if err != nil {
		return nil, err
	}
	return incidents, nil
}

func (r *DynamoDBRepository) CountByFingerprint(ctx context.Context, fingerprint, logGroup string, since time.Time) (int, error) {
	var incidents []entity.Incident
	err := retry.Retry(3, time.Second, func() error {
		incidents = incidents[:0]
		return r.db.Table(incidentsTable).Scan().
			Filter("'fingerprint' = ?", fingerprint).
			Filter("'log_group' = ?", logGroup).
			Filter("'created_at' > ?", since).
			All(ctx, &incidents)
	})
	if err != nil {
		return 0, err
	}
	return len(incidents), nil
}

func (r *DynamoDBRepository) IncidentsByFingerprint(ctx context.Context, fingerprint string, since time.Time) ([]entity.Incident, error) {
	var incidents []entity.Incident
	err := retry.Retry(3, time.Second, func() error {
		incidents = incidents[:0]
		return r.db.Table(incidentsTable).Scan().
			Filter("'fingerprint' = ?", fingerprint).
			Filter("'created_at' > ?", since).
			All(ctx, &incidents)
	})
	if err != nil {
		return nil, err
	}
	return incidents, nil
}

func (r *DynamoDBRepository) IncidentsByLogGroup(ctx context.Context, logGroup string, since time.Time) ([]entity.Incident, error) {
	var incidents []entity.Incident
	err := retry.Retry(3, time.Second, func() error {
		incidents = incidents[:0]
		return r.db.Table(incidentsTable).Scan().
			Filter("'log_group' = ?", logGroup).
			Filter("'created_at' > ?", since).
			All(ctx, &incidents)
	})
	if err != nil {
		return nil, err
	}
	return incidents, nil
}

func (r *DynamoDBRepository) CriticalFunctions(ctx context.Context) ([]string, error) {
	if item := r.criticalCache.Get(criticalFunctionsKey); item != nil {
		return item.Value(), nil
	}
	record := &criticalFunctionsRecord{}
	err := retry.Retry(3, time.Second, func() error {
		return r.db.Table(incidentsTable).Get("incident_id", criticalFunctionsKey).One(ctx, record)
	})
	if err != nil {
		if err == dynamo.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	r.criticalCache.Set(criticalFunctionsKey, record.Functions, ttlcache.DefaultTTL)
	return record.Functions, nil
}

func (r *DynamoDBRepository) SaveCriticalFunctions(ctx context.Context, functions []string) error {
	record := &criticalFunctionsRecord{
		ID:        criticalFunctionsKey,
		Functions: functions,
	}
	err := retry.Retry(3, time.Second, func() error {
		return r.db.Table(incidentsTable).Put(record).Run(ctx)
	})
	if err != nil {
		return err
	}
	r.criticalCache.Delete(criticalFunctionsKey)
	return nil
}

// ScenarioPolicies はストア上のトグルを既定値にマージして返す
func (r *DynamoDBRepository) ScenarioPolicies(ctx context.Context) (map[entity.Scenario]bool, error) {
	overrides := map[string]bool{}
	if item := r.policyCache.Get(scenarioPoliciesKey); item != nil {
		overrides = item.Value()
	} else {
		record := &scenarioPoliciesRecord{}
		err := retry.Retry(3, time.Second, func() error {
			return r.db.Table(incidentsTable).Get("incident_id", scenarioPoliciesKey).One(ctx, record)
		})
		if err != nil && err != dynamo.ErrNotFound {
			return nil, err
		}
		if record.Policies != nil {
			overrides = record.Policies
		}
		r.policyCache.Set(scenarioPoliciesKey, overrides, ttlcache.DefaultTTL)
	}

	policies := entity.DefaultScenarioPolicies()
	for name, enabled := range overrides {
		policies[entity.Scenario(name)] = enabled
	}
	return policies, nil
}

func (r *DynamoDBRepository) SaveScenarioPolicies(ctx context.Context, policies map[entity.Scenario]bool) error {
	record := &scenarioPoliciesRecord{
		ID:       scenarioPoliciesKey,
		Policies: map[string]bool{},
	}
	for name, enabled := range policies {
		record.Policies[string(name)] = enabled
	}
	err := retry.Retry(3, time.Second, func() error {
		return r.db.Table(incidentsTable).Put(record).Run(ctx)
	})
	if err != nil {
		return err
	}
	r.policyCache.Delete(scenarioPoliciesKey)
	return nil
}
