package blocks

import (
	"fmt"
	"strings"

	"github.com/pyama86/RCRA/domain/entity"
	"github.com/slack-go/slack"
)

// IncidentNotification はインシデント通知メッセージのブロックを組み立てる
func IncidentNotification(incident *entity.Incident) []slack.Block {
	analysis := incident.Analysis

	header := slack.NewHeaderBlock(
		slack.NewTextBlockObject(slack.PlainTextType,
			fmt.Sprintf("[RCRA] %s incident %s", analysis.Severity, incident.ID), false, false),
	)

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Summary:*\n%s", fallbackText(analysis.Summary)), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Probable Root Cause:*\n%s", fallbackText(analysis.ProbableRootCause)), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Scope:*\n%s", fallbackText(incident.LogGroup)), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Severity:*\n%s", analysis.Severity), false, false),
	}

	sections := []slack.Block{
		header,
		slack.NewSectionBlock(nil, fields, nil),
	}

	if len(analysis.SuggestedRemediationSteps) > 0 {
		var steps strings.Builder
		steps.WriteString("*Suggested Steps:*\n")
		for _, step := range analysis.SuggestedRemediationSteps {
			steps.WriteString("• " + step + "\n")
		}
		sections = append(sections, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, steps.String(), false, false), nil, nil))
	}

	if incident.Remediation != nil {
		sections = append(sections, slack.NewDividerBlock(), slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Remediation:* `%s`\nEligible: %t\n%s",
					incident.Remediation.ActionTaken,
					incident.Remediation.Eligible,
					incident.Remediation.Details), false, false), nil, nil))
	}

	return sections
}

func fallbackText(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
