package repository

import (
	"context"
	"time"

	"github.com/Songmu/retry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/pyama86/RCRA/domain/entity"
)

type CloudWatchLogsRepository struct {
	client        *cloudwatchlogs.Client
	filterPattern string
}

func NewCloudWatchLogsRepository(cfg aws.Config, filterPattern string) *CloudWatchLogsRepository {
	return &CloudWatchLogsRepository{
		client:        cloudwatchlogs.NewFromConfig(cfg),
		filterPattern: filterPattern,
	}
}

// ErrorEvents はsince以降にフィルタパターンへ一致したログイベントを返す
func (r *CloudWatchLogsRepository) ErrorEvents(ctx context.Context, logGroup string, since time.Time) ([]entity.LogEvent, error) {
	var events []entity.LogEvent
	var nextToken *string

	for {
		input := &cloudwatchlogs.FilterLogEventsInput{
			LogGroupName:  aws.String(logGroup),
			StartTime:     aws.Int64(since.UnixMilli()),
			FilterPattern: aws.String(r.filterPattern),
			NextToken:     nextToken,
		}
		var out *cloudwatchlogs.FilterLogEventsOutput
		err := retry.Retry(3, time.Second, func() error {
			var err error
			out, err = r.client.FilterLogEvents(ctx, input)
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, ev := range out.Events {
			event := entity.LogEvent{
				LogGroup: logGroup,
			}
			if ev.Message != nil {
				event.Message = *ev.Message
			}
			if ev.LogStreamName != nil {
				event.LogStream = *ev.LogStreamName
			}
			if ev.Timestamp != nil {
				event.Timestamp = time.UnixMilli(*ev.Timestamp)
			}
			events = append(events, event)
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	return events, nil
}
