package remediation

import (
	"slices"

	"github.com/pyama86/RCRA/domain/entity"
)

type Disposition string

const (
	// クリティカルリソースのため人手承認が必須
	DispositionManualApprovalRequired Disposition = "MANUAL_APPROVAL_REQUIRED"
	// シナリオポリシーで自動修復が無効化されている
	DispositionApprovalRequired Disposition = "APPROVAL_REQUIRED"
	// 自動修復の条件を満たさない
	DispositionManualReviewRequired Disposition = "MANUAL_REVIEW_REQUIRED"
	// 自動修復へ進んでよい
	DispositionProceed Disposition = "PROCEED"
)

// ConfigSnapshot は評価開始時に取得した設定の不変スナップショット。
// CriticalLookupFailed はクリティカルリスト読み出しの失敗を示し、
// その場合は安全側(承認必須)へ倒す
type ConfigSnapshot struct {
	CriticalFunctions    []string
	ScenarioPolicies     map[entity.Scenario]bool
	CriticalLookupFailed bool
}

type Decision struct {
	Disposition     Disposition
	Eligible        bool
	Scenario        entity.Scenario
	RecurrenceCount int
}

const autoRemediateRecurrenceThreshold = 2

// Evaluate はインシデントを1つの処置へ写す純粋関数。
// ゲートは宣言順に短絡評価され、先に成立したものが優先される
func Evaluate(incident *entity.Incident, snapshot ConfigSnapshot, recurrenceCount int) Decision {
	scenario := Classify(incident.RawMessage, incident.Analysis)
	decision := Decision{
		Scenario:        scenario,
		RecurrenceCount: recurrenceCount,
	}

	// ゲート1: クリティカルリソースは他のシグナルに関係なく人手承認
	if snapshot.CriticalLookupFailed || isCriticalFunction(incident.LogGroup, snapshot.CriticalFunctions) {
		decision.Disposition = DispositionManualApprovalRequired
		decision.Eligible = true
		return decision
	}

	// ゲート2: シナリオポリシーで無効化されていれば承認待ち。
	// ポリシーに載っていないシナリオ(generalを含む)は無効扱い
	if !snapshot.ScenarioPolicies[scenario] {
		decision.Disposition = DispositionApprovalRequired
		decision.Eligible = true
		return decision
	}

	// ゲート3: 再発・モデルヒント・重大度のいずれかが立っていること
	eligible := recurrenceCount >= autoRemediateRecurrenceThreshold ||
		incident.Analysis.AutoRemediationCandidate ||
		incident.Analysis.Severity == entity.SeverityHigh ||
		incident.Analysis.Severity == entity.SeverityCritical
	if !eligible {
		decision.Disposition = DispositionManualReviewRequired
		decision.Eligible = false
		return decision
	}

	decision.Disposition = DispositionProceed
	decision.Eligible = true
	return decision
}

func isCriticalFunction(logGroup string, criticalFunctions []string) bool {
	name, ok := FunctionName(logGroup)
	if !ok {
		return false
	}
	return slices.Contains(criticalFunctions, name)
}

// BlockedRemediation は承認待ち・レビュー待ちで止まった試行の記録を組み立てる
func BlockedRemediation(decision Decision) *entity.Remediation {
	r := &entity.Remediation{
		Eligible:        decision.Eligible,
		Scenario:        decision.Scenario,
		RecurrenceCount: decision.RecurrenceCount,
	}
	switch decision.Disposition {
	case DispositionManualApprovalRequired:
		r.ActionTaken = entity.ActionManualApprovalRequired
		r.Details = "This function is marked as CRITICAL and requires manual approval before remediation. Please review the suggested remediation steps and apply manually after approval."
	case DispositionApprovalRequired:
		r.ActionTaken = entity.ActionApprovalRequired
		r.Details = "Auto remediation is disabled for scenario " + string(decision.Scenario) + ". Waiting for operator approval."
	case DispositionManualReviewRequired:
		r.ActionTaken = entity.ActionManualReviewRequired
		r.Details = "Incident did not meet auto remediation criteria (recurrence, model hint or severity). Manual review required."
	default:
		r.ActionTaken = entity.ActionNone
	}
	return r
}
