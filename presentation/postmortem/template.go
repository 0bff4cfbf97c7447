package postmortem

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pyama86/RCRA/domain/entity"
	"github.com/russross/blackfriday/v2"
)

// Render はインシデントのポストモーテムをMarkdownで組み立てる
func Render(incident *entity.Incident) string {
	analysis := incident.Analysis

	steps := "None provided"
	if len(analysis.SuggestedRemediationSteps) > 0 {
		steps = "- " + strings.Join(analysis.SuggestedRemediationSteps, "\n- ")
	}

	remediation := "No remediation attempt recorded."
	if incident.Remediation != nil {
		remediation = fmt.Sprintf("Action taken: %s\n\n%s",
			incident.Remediation.ActionTaken, incident.Remediation.Details)
		for _, action := range incident.Remediation.Actions {
			remediation += fmt.Sprintf("\n- %s %s on %s", action.Service, action.Action, action.Resource)
		}
	}

	resolution := ""
	if incident.Resolution != nil {
		resolution = fmt.Sprintf(`## 解決

%s が %s に解決

%s
`, incident.Resolution.ResolvedBy,
			incident.Resolution.ResolvedAt.Format("2006-01-02 15:04"),
			incident.Resolution.Notes)
	}

	return fmt.Sprintf(`# %s

## 発生日時

%s

## 発生源

%s (%s)

## 概要

%s

## 主な原因

%s

## 重大度

%s

## 推奨される対応

%s

## 自動修復

%s

%s`,
		incident.ID,
		incident.CreatedAt.Format("2006-01-02 15:04"),
		incident.LogGroup,
		incident.LogStream,
		analysis.Summary,
		analysis.ProbableRootCause,
		analysis.Severity,
		steps,
		remediation,
		resolution,
	)
}

// RenderHTML はMarkdownをConfluence投稿用のサニタイズ済みHTMLへ変換する
func RenderHTML(incident *entity.Incident) string {
	unsafe := blackfriday.Run([]byte(Render(incident)))
	return string(bluemonday.UGCPolicy().SanitizeBytes(unsafe))
}
