package repository

import (
	"log/slog"
	"time"

	"github.com/Songmu/retry"
	"github.com/pyama86/RCRA/domain/entity"
	"github.com/pyama86/RCRA/presentation/blocks"
	"github.com/slack-go/slack"
)

var severityColorMap = map[entity.Severity]string{
	entity.SeverityLow:      "#36a64f",
	entity.SeverityMedium:   "#f2c744",
	entity.SeverityHigh:     "#e8912d",
	entity.SeverityCritical: "#ff0000",
	entity.SeverityUnknown:  "#aaaaaa",
}

type SlackRepository struct {
	client  *slack.Client
	channel string
}

func NewSlackRepository(client *slack.Client, channel string) *SlackRepository {
	return &SlackRepository{
		client:  client,
		channel: channel,
	}
}

// NotifyIncident は通知をfire-and-forgetで送る。
// 失敗してもパイプラインは止めない
func (h *SlackRepository) NotifyIncident(incident *entity.Incident) {
	color, ok := severityColorMap[incident.Analysis.Severity]
	if !ok {
		color = severityColorMap[entity.SeverityUnknown]
	}

	attachment := slack.Attachment{
		Color:  color,
		Blocks: slack.Blocks{BlockSet: blocks.IncidentNotification(incident)},
	}

	go func() {
		err := retry.Retry(10, 3*time.Second, func() error {
			_, _, err := h.client.PostMessage(h.channel, slack.MsgOptionAttachments(attachment))
			if err != nil {
				slog.Warn("PostMessage", slog.Any("channel", h.channel), slog.Any("err", err))
			}
			return err
		})
		if err != nil {
			slog.Error("Failed to notify incident", slog.String("incident_id", incident.ID), slog.Any("err", err))
		}
	}()
}
