package remediation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pyama86/RCRA/domain/entity"
	"github.com/pyama86/RCRA/remediation"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		analysis entity.Analysis
		want     entity.Scenario
	}{
		{
			name:    "timeout",
			message: "Task timed out after 30.00 seconds",
			want:    entity.ScenarioLambdaTimeout,
		},
		{
			name:    "timeout wins over memory by priority",
			message: "timeout while allocating memory",
			want:    entity.ScenarioLambdaTimeout,
		},
		{
			name:    "out of memory",
			message: "Runtime exited with OutOfMemory error",
			want:    entity.ScenarioOutOfMemory,
		},
		{
			name:    "throttling",
			message: "Rate limit exceeded, request throttled",
			want:    entity.ScenarioThrottling,
		},
		{
			name:    "connection pool needs both terms",
			message: "connection pool exhausted",
			want:    entity.ScenarioConnectionPool,
		},
		{
			name:    "connection alone is not a pool issue",
			message: "connection refused",
			want:    entity.ScenarioGeneral,
		},
		{
			name:    "cache corruption needs both terms",
			message: "cache entry is corrupt",
			want:    entity.ScenarioCacheCorruption,
		},
		{
			name:    "cache alone is general",
			message: "cache miss on user profile",
			want:    entity.ScenarioGeneral,
		},
		{
			name:    "health check",
			message: "target marked unhealthy by load balancer",
			want:    entity.ScenarioHealthCheck,
		},
		{
			name:    "case insensitive",
			message: "TIMEOUT waiting for upstream",
			want:    entity.ScenarioLambdaTimeout,
		},
		{
			name:    "matches on analysis text too",
			message: "request failed",
			analysis: entity.Analysis{
				Summary: "Function hit its configured timeout",
			},
			want: entity.ScenarioLambdaTimeout,
		},
		{
			name:    "matches on tags",
			message: "request failed",
			analysis: entity.Analysis{
				Tags: []string{"throttle"},
			},
			want: entity.ScenarioThrottling,
		},
		{
			name:    "fallback",
			message: "something unexpected happened",
			want:    entity.ScenarioGeneral,
		},
		{
			name: "empty input is still total",
			want: entity.ScenarioGeneral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := remediation.Classify(tt.message, tt.analysis)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFunctionName(t *testing.T) {
	name, ok := remediation.FunctionName("/aws/lambda/payment-service")
	assert.True(t, ok)
	assert.Equal(t, "payment-service", name)

	_, ok = remediation.FunctionName("/aws/ecs/payment-service")
	assert.False(t, ok)

	_, ok = remediation.FunctionName("")
	assert.False(t, ok)
}
