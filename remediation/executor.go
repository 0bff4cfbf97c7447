package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pyama86/RCRA/domain/entity"
	"github.com/pyama86/RCRA/domain/repository"
)

const (
	// Lambdaのハードリミット
	maxTimeoutSeconds = 900
	maxMemoryMB       = 10240

	restartEnvKey     = "LAST_RESTART"
	healthCheckEnvKey = "HEALTH_CHECK_RESTART"
)

// Executor はシナリオごとの修復戦略を対象リソースへ適用する。
// どの戦略も現在の設定を読んでから変更するので再実行しても安全
type Executor struct {
	functions repository.FunctionConfigRepository
	alarms    repository.AlarmRepository
	nowFn     func() time.Time
}

func NewExecutor(functions repository.FunctionConfigRepository, alarms repository.AlarmRepository) *Executor {
	return &Executor{
		functions: functions,
		alarms:    alarms,
		nowFn:     time.Now,
	}
}

// Remediate は必ず修復記録を返す。外部呼び出しの失敗はFAILEDとして
// 記録に畳み込み、エラーとしては返さない
func (e *Executor) Remediate(ctx context.Context, scenario entity.Scenario, logGroup string) *entity.Remediation {
	name, ok := FunctionName(logGroup)
	if !ok {
		return &entity.Remediation{
			Eligible:    true,
			ActionTaken: entity.ActionAnalysisOnly,
			Scenario:    scenario,
			Details:     fmt.Sprintf("Unable to resolve target resource from scope %q. Manual action required.", logGroup),
		}
	}

	var result *entity.Remediation
	switch scenario {
	case entity.ScenarioLambdaTimeout:
		result = e.fixTimeout(ctx, name)
	case entity.ScenarioOutOfMemory:
		result = e.fixMemory(ctx, name)
	case entity.ScenarioConnectionPool:
		result = e.restart(ctx, name, restartEnvKey,
			fmt.Sprintf("Triggered function restart to reset connection pool for %s", name),
			"restart_function")
	case entity.ScenarioThrottling:
		result = e.notifyThrottling(ctx, name)
	case entity.ScenarioCacheCorruption:
		result = e.cacheAdvisory()
	case entity.ScenarioHealthCheck:
		result = e.restart(ctx, name, healthCheckEnvKey,
			fmt.Sprintf("Restarted %s due to health check failure", name),
			"restart_for_health")
	default:
		result = e.restart(ctx, name, restartEnvKey,
			fmt.Sprintf("Triggered generic restart of %s", name),
			"restart_function")
	}

	result.Scenario = scenario
	slog.Info("Remediation finished",
		slog.String("function", name),
		slog.String("scenario", string(scenario)),
		slog.String("action", string(result.ActionTaken)))
	return result
}

// タイムアウト値を上限まで倍化する
func (e *Executor) fixTimeout(ctx context.Context, name string) *entity.Remediation {
	config, err := e.functions.FunctionConfig(ctx, name)
	if err != nil {
		return failed("Failed to increase timeout", err)
	}

	current := config.Timeout
	next := min(current*2, maxTimeoutSeconds)
	if next <= current {
		return &entity.Remediation{
			Eligible:    true,
			ActionTaken: entity.ActionLimitReached,
			Details:     fmt.Sprintf("Timeout already at maximum (%ds). Consider optimizing code or splitting function.", current),
		}
	}

	if err := e.functions.UpdateFunctionTimeout(ctx, name, next); err != nil {
		return failed("Failed to increase timeout", err)
	}

	return &entity.Remediation{
		Eligible:    true,
		ActionTaken: entity.ActionAutoRemediated,
		Details:     fmt.Sprintf("Increased function timeout from %ds to %ds", current, next),
		Actions: []entity.ActionEntry{
			{
				Service:  "lambda",
				Action:   "update_function_configuration",
				Resource: name,
				Changes: map[string]string{
					"timeout_before": fmt.Sprintf("%d", current),
					"timeout_after":  fmt.Sprintf("%d", next),
				},
			},
		},
	}
}

// メモリ割り当てを上限まで倍化する
func (e *Executor) fixMemory(ctx context.Context, name string) *entity.Remediation {
	config, err := e.functions.FunctionConfig(ctx, name)
	if err != nil {
		return failed("Failed to increase memory", err)
	}

	current := config.MemorySize
	next := min(current*2, maxMemoryMB)
	if next <= current {
		return &entity.Remediation{
			Eligible:    true,
			ActionTaken: entity.ActionLimitReached,
			Details:     fmt.Sprintf("Memory already at maximum (%dMB). Consider code optimization.", current),
		}
	}

	if err := e.functions.UpdateFunctionMemory(ctx, name, next); err != nil {
		return failed("Failed to increase memory", err)
	}

	return &entity.Remediation{
		Eligible:    true,
		ActionTaken: entity.ActionAutoRemediated,
		Details:     fmt.Sprintf("Increased function memory from %dMB to %dMB", current, next),
		Actions: []entity.ActionEntry{
			{
				Service:  "lambda",
				Action:   "update_function_configuration",
				Resource: name,
				Changes: map[string]string{
					"memory_before": fmt.Sprintf("%d", current),
					"memory_after":  fmt.Sprintf("%d", next),
				},
			},
		},
	}
}

// 環境変数へ現在時刻を書き込み、コンテナの再初期化を強制する
func (e *Executor) restart(ctx context.Context, name, envKey, details, action string) *entity.Remediation {
	config, err := e.functions.FunctionConfig(ctx, name)
	if err != nil {
		return failed("Failed to restart function", err)
	}

	timestamp := e.nowFn().UTC().Format(time.RFC3339)
	env := config.Environment
	if env == nil {
		env = map[string]string{}
	}
	env[envKey] = timestamp

	if err := e.functions.UpdateFunctionEnvironment(ctx, name, env); err != nil {
		return failed("Failed to restart function", err)
	}

	return &entity.Remediation{
		Eligible:    true,
		ActionTaken: entity.ActionAutoRemediated,
		Details:     details,
		Actions: []entity.ActionEntry{
			{
				Service:  "lambda",
				Action:   action,
				Resource: name,
				Changes: map[string]string{
					"method":    "environment_variable_update",
					"timestamp": timestamp,
				},
			},
		},
	}
}

// スロットリングは自動修復せず、監視アラームの作成と通知に留める
func (e *Executor) notifyThrottling(ctx context.Context, name string) *entity.Remediation {
	if err := e.alarms.CreateThrottleAlarm(ctx, name); err != nil {
		return failed("Failed to create throttle alarm", err)
	}

	return &entity.Remediation{
		Eligible:    true,
		ActionTaken: entity.ActionNotificationSent,
		Details:     "API throttling detected. CloudWatch alarm created. Request a quota increase for the throttled API.",
		Actions: []entity.ActionEntry{
			{
				Service:  "cloudwatch",
				Action:   "create_alarm",
				Resource: fmt.Sprintf("rcra-throttle-%s", name),
				Changes: map[string]string{
					"alarm_created":  "true",
					"recommendation": "Request API quota increase",
				},
			},
		},
	}
}

// キャッシュのフラッシュは無条件に自動化するには破壊的すぎるため、
// 常に解析のみで承認フローへ回す
func (e *Executor) cacheAdvisory() *entity.Remediation {
	return &entity.Remediation{
		Eligible:    true,
		ActionTaken: entity.ActionAnalysisOnly,
		Details:     "Cache corruption detected. Recommendation: Flush cache and rebuild. Manual approval required for production.",
		Actions: []entity.ActionEntry{
			{
				Service:  "elasticache",
				Action:   "flush_cache",
				Resource: "pending_manual_approval",
				Changes: map[string]string{
					"status": "requires_approval",
					"impact": "temporary_cache_miss_spike",
				},
			},
		},
	}
}

func failed(prefix string, err error) *entity.Remediation {
	return &entity.Remediation{
		Eligible:    true,
		ActionTaken: entity.ActionFailed,
		Details:     fmt.Sprintf("%s: %s", prefix, err),
	}
}
