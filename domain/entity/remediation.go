package entity

import "time"

type Scenario string

const (
	ScenarioLambdaTimeout     Scenario = "lambdaTimeout"
	ScenarioOutOfMemory       Scenario = "outOfMemory"
	ScenarioThrottling        Scenario = "throttling"
	ScenarioConnectionPool    Scenario = "connectionPool"
	ScenarioCacheCorruption   Scenario = "cacheCorruption"
	ScenarioHealthCheck       Scenario = "healthCheck"
	ScenarioDiskFull          Scenario = "diskFull"
	ScenarioAuthFailure       Scenario = "authFailure"
	ScenarioDependencyTimeout Scenario = "dependencyTimeout"
	ScenarioDLQEscalation     Scenario = "dlqEscalation"
	ScenarioGeneral           Scenario = "general"
)

type ActionCode string

const (
	ActionNone                   ActionCode = "NONE"
	ActionAutoRemediated         ActionCode = "AUTO_REMEDIATED"
	ActionLimitReached           ActionCode = "LIMIT_REACHED"
	ActionFailed                 ActionCode = "FAILED"
	ActionAnalysisOnly           ActionCode = "ANALYSIS_ONLY"
	ActionNotificationSent       ActionCode = "NOTIFICATION_SENT"
	ActionManualApprovalRequired ActionCode = "MANUAL_APPROVAL_REQUIRED"
	ActionApprovalRequired       ActionCode = "APPROVAL_REQUIRED"
	ActionManualReviewRequired   ActionCode = "MANUAL_REVIEW_REQUIRED"
)

// ActionEntry は外部リソースへ実際に行った変更の監査エントリ
type ActionEntry struct {
	Service  string            `json:"service" dynamo:"service"`
	Action   string            `json:"action" dynamo:"action"`
	Resource string            `json:"resource" dynamo:"resource"`
	Changes  map[string]string `json:"changes" dynamo:"changes"`
}

// Remediation は1回の修復試行の結果。再試行時は追記ではなく上書きする
type Remediation struct {
	Eligible        bool          `json:"eligible" dynamo:"eligible"`
	ActionTaken     ActionCode    `json:"action_taken" dynamo:"action_taken"`
	Details         string        `json:"details" dynamo:"details"`
	Actions         []ActionEntry `json:"actions,omitempty" dynamo:"actions,omitempty"`
	Scenario        Scenario      `json:"scenario,omitempty" dynamo:"scenario,omitempty"`
	RecurrenceCount int           `json:"recurrence_count" dynamo:"recurrence_count"`
	ApprovedBy      string        `json:"approved_by,omitempty" dynamo:"approved_by,omitempty"`
	ApprovedAt      time.Time     `json:"approved_at,omitempty" dynamo:"approved_at,omitempty"`
}

// Blocked は人手の承認待ちで止まっている状態かどうか
func (r *Remediation) Blocked() bool {
	return r.ActionTaken == ActionManualApprovalRequired || r.ActionTaken == ActionApprovalRequired
}

// DefaultScenarioPolicies はシナリオ別自動修復トグルの既定値。
// ストア上のレコードはこのマップにマージされる
func DefaultScenarioPolicies() map[Scenario]bool {
	return map[Scenario]bool{
		ScenarioLambdaTimeout:     true,
		ScenarioOutOfMemory:       true,
		ScenarioThrottling:        false,
		ScenarioConnectionPool:    false,
		ScenarioCacheCorruption:   false,
		ScenarioHealthCheck:       false,
		ScenarioDiskFull:          false,
		ScenarioAuthFailure:       false,
		ScenarioDependencyTimeout: false,
		ScenarioDLQEscalation:     false,
	}
}

// FunctionConfig は修復対象リソースの可変設定のスナップショット
type FunctionConfig struct {
	Timeout     int32
	MemorySize  int32
	Environment map[string]string
}

// LogEvent はコレクタが拾った生のログイベント
type LogEvent struct {
	LogGroup  string
	LogStream string
	Message   string
	Timestamp time.Time
}
