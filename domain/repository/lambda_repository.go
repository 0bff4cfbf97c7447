package repository

import (
	"context"
	"time"

	"github.com/Songmu/retry"
	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/pyama86/RCRA/domain/entity"
)

// LambdaRepository は修復対象のLambda関数設定を読み書きする
type LambdaRepository struct {
	client *lambdasvc.Client
}

func NewLambdaRepository(cfg aws.Config) *LambdaRepository {
	return &LambdaRepository{
		client: lambdasvc.NewFromConfig(cfg),
	}
}

func (r *LambdaRepository) FunctionConfig(ctx context.Context, name string) (*entity.FunctionConfig, error) {
	var out *lambdasvc.GetFunctionConfigurationOutput
	err := retry.Retry(3, time.Second, func() error {
		var err error
		out, err = r.client.GetFunctionConfiguration(ctx, &lambdasvc.GetFunctionConfigurationInput{
			FunctionName: aws.String(name),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	config := &entity.FunctionConfig{
		Environment: map[string]string{},
	}
	if out.Timeout != nil {
		config.Timeout = *out.Timeout
	}
	if out.MemorySize != nil {
		config.MemorySize = *out.MemorySize
	}
	if out.Environment != nil {
		for k, v := range out.Environment.Variables {
			config.Environment[k] = v
		}
	}
	return config, nil
}

func (r *LambdaRepository) UpdateFunctionTimeout(ctx context.Context, name string, seconds int32) error {
	return retry.Retry(3, time.Second, func() error {
		_, err := r.client.UpdateFunctionConfiguration(ctx, &lambdasvc.UpdateFunctionConfigurationInput{
			FunctionName: aws.String(name),
			Timeout:      aws.Int32(seconds),
		})
		return err
	})
}

func (r *LambdaRepository) UpdateFunctionMemory(ctx context.Context, name string, megabytes int32) error {
	return retry.Retry(3, time.Second, func() error {
		_, err := r.client.UpdateFunctionConfiguration(ctx, &lambdasvc.UpdateFunctionConfigurationInput{
			FunctionName: aws.String(name),
			MemorySize:   aws.Int32(megabytes),
		})
		return err
	})
}

func (r *LambdaRepository) UpdateFunctionEnvironment(ctx context.Context, name string, env map[string]string) error {
	return retry.Retry(3, time.Second, func() error {
		_, err := r.client.UpdateFunctionConfiguration(ctx, &lambdasvc.UpdateFunctionConfigurationInput{
			FunctionName: aws.String(name),
			Environment: &lambdatypes.Environment{
				Variables: env,
			},
		})
		return err
	})
}
