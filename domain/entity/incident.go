package entity

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
	SeverityUnknown  Severity = "UNKNOWN"
)

// Weight はダッシュボードの平均重大度計算に使う重み
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
)

type Analysis struct {
	Summary                   string   `json:"summary" dynamo:"summary"`
	ProbableRootCause         string   `json:"probable_root_cause" dynamo:"probable_root_cause"`
	Severity                  Severity `json:"severity" dynamo:"severity"`
	SuggestedRemediationSteps []string `json:"suggested_remediation_steps" dynamo:"suggested_remediation_steps"`
	Tags                      []string `json:"tags" dynamo:"tags"`
	RecurrenceHint            bool     `json:"recurrence_hint" dynamo:"recurrence_hint"`
	AutoRemediationCandidate  bool     `json:"auto_remediation_candidate" dynamo:"auto_remediation_candidate"`
	Rationale                 string   `json:"rationale" dynamo:"rationale"`
}

type Resolution struct {
	ResolvedBy string    `json:"resolved_by" dynamo:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at" dynamo:"resolved_at"`
	Notes      string    `json:"notes,omitempty" dynamo:"notes,omitempty"`
}

type Incident struct {
	ID          string       `json:"incident_id" dynamo:"incident_id,hash"`
	CreatedAt   time.Time    `json:"created_at" dynamo:"created_at"`
	LogGroup    string       `json:"log_group" dynamo:"log_group"`
	LogStream   string       `json:"log_stream" dynamo:"log_stream"`
	RawMessage  string       `json:"raw_message" dynamo:"raw_message"`
	Fingerprint string       `json:"fingerprint" dynamo:"fingerprint"`
	Analysis    Analysis     `json:"analysis" dynamo:"analysis"`
	Remediation *Remediation `json:"remediation,omitempty" dynamo:"remediation,omitempty"`
	Status      Status       `json:"status" dynamo:"status"`
	Resolution  *Resolution  `json:"resolution,omitempty" dynamo:"resolution,omitempty"`
}

// Resolve はインシデントを終端状態に遷移させる。RESOLVEDは終端なので再遷移はしない
func (i *Incident) Resolve(resolvedBy, notes string, at time.Time) bool {
	if i.Status == StatusResolved {
		return false
	}
	i.Status = StatusResolved
	i.Resolution = &Resolution{
		ResolvedBy: resolvedBy,
		ResolvedAt: at,
		Notes:      notes,
	}
	return true
}

// Acknowledge はOPENのインシデントのみIN_PROGRESSへ進める
func (i *Incident) Acknowledge() bool {
	if i.Status != StatusOpen {
		return false
	}
	i.Status = StatusInProgress
	return true
}

const fingerprintMaxLength = 100

// NewFingerprint は解析サマリから再発照合用の固定長キーを導出する
func NewFingerprint(summary string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(summary), " "))
	runes := []rune(normalized)
	if len(runes) > fingerprintMaxLength {
		runes = runes[:fingerprintMaxLength]
	}
	return string(runes)
}
