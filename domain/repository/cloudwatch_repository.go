package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Songmu/retry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type CloudWatchRepository struct {
	client *cloudwatch.Client
}

func NewCloudWatchRepository(cfg aws.Config) *CloudWatchRepository {
	return &CloudWatchRepository{
		client: cloudwatch.NewFromConfig(cfg),
	}
}

// CreateThrottleAlarm はスロットリング監視のアラームを作成する。
// 同名アラームが既にある場合は上書きされるだけなので再実行しても安全
func (r *CloudWatchRepository) CreateThrottleAlarm(ctx context.Context, resource string) error {
	return retry.Retry(3, time.Second, func() error {
		_, err := r.client.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
			AlarmName:          aws.String(fmt.Sprintf("rcra-throttle-%s", resource)),
			AlarmDescription:   aws.String("Created by RCRA: sustained throttling detected. Request a quota increase."),
			Namespace:          aws.String("AWS/Lambda"),
			MetricName:         aws.String("Throttles"),
			Statistic:          cwtypes.StatisticSum,
			ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanThreshold,
			Threshold:          aws.Float64(1),
			Period:             aws.Int32(300),
			EvaluationPeriods:  aws.Int32(1),
			Dimensions: []cwtypes.Dimension{
				{
					Name:  aws.String("FunctionName"),
					Value: aws.String(resource),
				},
			},
		})
		return err
	})
}
