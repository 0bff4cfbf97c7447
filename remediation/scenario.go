package remediation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pyama86/RCRA/domain/entity"
)

// classificationRule は1つの障害シナリオへの分類条件。
// ルールは上から順に評価され、最初に一致したものが勝つ
type classificationRule struct {
	scenario entity.Scenario
	match    func(text string) bool
}

func containsAny(text string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

var classificationRules = []classificationRule{
	{
		scenario: entity.ScenarioLambdaTimeout,
		match: func(text string) bool {
			return containsAny(text, "timeout", "timed out")
		},
	},
	{
		scenario: entity.ScenarioOutOfMemory,
		match: func(text string) bool {
			return containsAny(text, "memory", "outofmemory", "out of memory")
		},
	},
	{
		scenario: entity.ScenarioThrottling,
		match: func(text string) bool {
			return containsAny(text, "throttle", "rate limit")
		},
	},
	{
		scenario: entity.ScenarioConnectionPool,
		match: func(text string) bool {
			return strings.Contains(text, "connection") && containsAny(text, "pool", "exhausted")
		},
	},
	{
		scenario: entity.ScenarioCacheCorruption,
		match: func(text string) bool {
			return strings.Contains(text, "cache") && containsAny(text, "corrupt", "invalid")
		},
	},
	{
		scenario: entity.ScenarioHealthCheck,
		match: func(text string) bool {
			return containsAny(text, "health check", "unhealthy")
		},
	},
}

// Classify は生メッセージと解析結果を必ず1つのシナリオへ写す純粋関数。
// どのルールにも一致しない場合はgeneralに落ちる
func Classify(rawMessage string, analysis entity.Analysis) entity.Scenario {
	text := strings.ToLower(fmt.Sprintf("%s %s %s %s",
		rawMessage,
		analysis.Summary,
		analysis.ProbableRootCause,
		strings.Join(analysis.Tags, " "),
	))

	for _, rule := range classificationRules {
		if rule.match(text) {
			return rule.scenario
		}
	}
	return entity.ScenarioGeneral
}

var functionNamePattern = regexp.MustCompile(`/aws/lambda/([^/]+)`)

// FunctionName はスコープ(ロググループ)から修復対象の関数名を取り出す。
// 規約に沿わないスコープはfalseを返す
func FunctionName(logGroup string) (string, bool) {
	m := functionNamePattern.FindStringSubmatch(logGroup)
	if m == nil {
		return "", false
	}
	return m[1], true
}
