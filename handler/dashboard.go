package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pyama86/RCRA/domain/entity"
	"github.com/pyama86/RCRA/domain/repository"
	"github.com/pyama86/RCRA/forecast"
	"github.com/pyama86/RCRA/presentation/postmortem"
	"github.com/spf13/cast"
)

// Dashboard はインシデントの参照・統計・予測と設定管理のAPIを提供する
type Dashboard struct {
	repo         repository.Repository
	pipeline     *Pipeline
	exporter     repository.PostMortemExporter
	lookbackDays int
	nowFn        func() time.Time
}

func NewDashboard(repo repository.Repository, pipeline *Pipeline, exporter repository.PostMortemExporter, lookbackDays int) *Dashboard {
	if lookbackDays <= 0 {
		lookbackDays = forecast.DefaultLookback
	}
	return &Dashboard{
		repo:         repo,
		pipeline:     pipeline,
		exporter:     exporter,
		lookbackDays: lookbackDays,
		nowFn:        time.Now,
	}
}

func (d *Dashboard) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/incidents", d.listIncidents)
	api.GET("/incidents/:id", d.getIncident)
	api.GET("/incidents/:id/related", d.relatedIncidents)
	api.POST("/incidents/:id/acknowledge", d.acknowledgeIncident)
	api.POST("/incidents/:id/resolve", d.resolveIncident)
	api.POST("/incidents/:id/approve", d.approveIncident)
	api.GET("/statistics", d.statistics)
	api.GET("/forecast", d.forecastIncidents)

	config := api.Group("/config")
	config.GET("/critical-functions", d.getCriticalFunctions)
	config.PUT("/critical-functions", d.replaceCriticalFunctions)
	config.POST("/critical-functions/:name", d.addCriticalFunction)
	config.DELETE("/critical-functions/:name", d.removeCriticalFunction)
	config.GET("/scenario-policies", d.getScenarioPolicies)
	config.PUT("/scenario-policies", d.updateScenarioPolicies)

	return r
}

type incidentSummary struct {
	IncidentID          string          `json:"incidentId"`
	Timestamp           time.Time       `json:"timestamp"`
	LogGroup            string          `json:"logGroup"`
	LogStream           string          `json:"logStream"`
	RawMessage          string          `json:"rawMessage"`
	Summary             string          `json:"summary"`
	Severity            entity.Severity `json:"severity"`
	RootCause           string          `json:"rootCause"`
	Tags                []string        `json:"tags"`
	Status              entity.Status   `json:"status"`
	RemediationEligible bool            `json:"remediationEligible"`
}

func summarize(incident *entity.Incident) incidentSummary {
	s := incidentSummary{
		IncidentID: incident.ID,
		Timestamp:  incident.CreatedAt,
		LogGroup:   incident.LogGroup,
		LogStream:  incident.LogStream,
		// 一覧表示用に本文は切り詰める
		RawMessage: truncate(incident.RawMessage, 200),
		Summary:    incident.Analysis.Summary,
		Severity:   incident.Analysis.Severity,
		RootCause:  incident.Analysis.ProbableRootCause,
		Tags:       incident.Analysis.Tags,
		Status:     incident.Status,
	}
	if incident.Remediation != nil {
		s.RemediationEligible = incident.Remediation.Eligible
	}
	return s
}

func (d *Dashboard) listIncidents(c *gin.Context) {
	limit := cast.ToInt(c.DefaultQuery("limit", "50"))
	severity := entity.Severity(c.Query("severity"))

	incidents, err := d.repo.RecentIncidents(c.Request.Context(), limit, severity)
	if err != nil {
		d.serverError(c, err)
		return
	}

	summaries := make([]incidentSummary, 0, len(incidents))
	for i := range incidents {
		summaries = append(summaries, summarize(&incidents[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"incidents": summaries,
		"count":     len(summaries),
	})
}

func (d *Dashboard) getIncident(c *gin.Context) {
	incident, ok := d.findIncident(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (d *Dashboard) relatedIncidents(c *gin.Context) {
	incident, ok := d.findIncident(c)
	if !ok {
		return
	}

	related, err := d.pipeline.Tracker().Related(c.Request.Context(), incident.Fingerprint, incident.LogGroup)
	if err != nil {
		d.serverError(c, err)
		return
	}

	summaries := make([]incidentSummary, 0, len(related))
	for i := range related {
		if related[i].ID == incident.ID {
			continue
		}
		summaries = append(summaries, summarize(&related[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"incidents": summaries,
		"count":     len(summaries),
	})
}

func (d *Dashboard) acknowledgeIncident(c *gin.Context) {
	incident, ok := d.findIncident(c)
	if !ok {
		return
	}
	if !incident.Acknowledge() {
		c.JSON(http.StatusConflict, gin.H{"error": "incident is not open"})
		return
	}
	if err := d.repo.SaveIncident(c.Request.Context(), incident); err != nil {
		d.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
	Notes      string `json:"notes"`
}

func (d *Dashboard) resolveIncident(c *gin.Context) {
	incident, ok := d.findIncident(c)
	if !ok {
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !incident.Resolve(req.ResolvedBy, req.Notes, d.nowFn().UTC()) {
		c.JSON(http.StatusConflict, gin.H{"error": "incident is already resolved"})
		return
	}
	if err := d.repo.SaveIncident(c.Request.Context(), incident); err != nil {
		d.serverError(c, err)
		return
	}

	// 解決時はポストモーテムをエクスポートする。失敗しても解決自体は成立させる
	if d.exporter != nil {
		url, err := d.exporter.ExportPostMortem(c.Request.Context(),
			"Postmortem "+incident.ID, postmortem.RenderHTML(incident))
		if err != nil {
			slog.Error("Failed to export postmortem", slog.String("incident_id", incident.ID), slog.Any("err", err))
		} else {
			slog.Info("Postmortem exported", slog.String("incident_id", incident.ID), slog.String("url", url))
		}
	}

	c.JSON(http.StatusOK, incident)
}

type approveRequest struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
}

func (d *Dashboard) approveIncident(c *gin.Context) {
	incident, ok := d.findIncident(c)
	if !ok {
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.pipeline.Approve(c.Request.Context(), incident, req.ApprovedBy); err != nil {
		if errors.Is(err, ErrNotPendingApproval) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		d.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (d *Dashboard) statistics(c *gin.Context) {
	incidents, err := d.repo.RecentIncidents(c.Request.Context(), 0, "")
	if err != nil {
		d.serverError(c, err)
		return
	}

	now := d.nowFn().UTC()
	last24h := now.Add(-24 * time.Hour)

	severityCounts := map[entity.Severity]int{
		entity.SeverityCritical: 0,
		entity.SeverityHigh:     0,
		entity.SeverityMedium:   0,
		entity.SeverityLow:      0,
		entity.SeverityUnknown:  0,
	}
	remediationEligible := 0
	incidents24h := 0
	tagCounts := map[string]int{}

	for i := range incidents {
		incident := &incidents[i]
		if _, ok := severityCounts[incident.Analysis.Severity]; ok {
			severityCounts[incident.Analysis.Severity]++
		}
		if incident.Remediation != nil && incident.Remediation.Eligible {
			remediationEligible++
		}
		if incident.CreatedAt.After(last24h) {
			incidents24h++
		}
		for _, tag := range incident.Analysis.Tags {
			tagCounts[tag]++
		}
	}

	type tagCount struct {
		Tag   string `json:"tag"`
		Count int    `json:"count"`
	}
	topTags := make([]tagCount, 0, len(tagCounts))
	for tag, count := range tagCounts {
		topTags = append(topTags, tagCount{Tag: tag, Count: count})
	}
	sort.Slice(topTags, func(i, j int) bool {
		if topTags[i].Count == topTags[j].Count {
			return topTags[i].Tag < topTags[j].Tag
		}
		return topTags[i].Count > topTags[j].Count
	})
	if len(topTags) > 10 {
		topTags = topTags[:10]
	}

	// RecentIncidentsは作成時刻の降順で返ってくる
	recent := make([]incidentSummary, 0, 5)
	for i := range incidents {
		if len(recent) == 5 {
			break
		}
		recent = append(recent, summarize(&incidents[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"overview": gin.H{
			"totalIncidents":      len(incidents),
			"incidents24h":        incidents24h,
			"remediationEligible": remediationEligible,
			"avgSeverity":         averageSeverity(severityCounts, len(incidents)),
		},
		"severityBreakdown": severityCounts,
		"topTags":           topTags,
		"recentIncidents":   recent,
		"lastUpdated":       now.Format(time.RFC3339),
	})
}

func averageSeverity(counts map[entity.Severity]int, total int) string {
	if total == 0 {
		return "N/A"
	}

	weighted := 0
	for severity, count := range counts {
		weighted += severity.Weight() * count
	}
	avg := float64(weighted) / float64(total)

	switch {
	case avg >= 3.5:
		return string(entity.SeverityCritical)
	case avg >= 2.5:
		return string(entity.SeverityHigh)
	case avg >= 1.5:
		return string(entity.SeverityMedium)
	default:
		return string(entity.SeverityLow)
	}
}

func (d *Dashboard) forecastIncidents(c *gin.Context) {
	now := d.nowFn().UTC()
	incidents, err := d.repo.IncidentsSince(c.Request.Context(), now.AddDate(0, 0, -d.lookbackDays))
	if err != nil {
		d.serverError(c, err)
		return
	}

	series := forecast.BuildDailySeries(incidents, now, d.lookbackDays)
	result := forecast.Analyze(series, now)

	c.JSON(http.StatusOK, gin.H{
		"forecast": result,
		"history":  series,
	})
}

func (d *Dashboard) getCriticalFunctions(c *gin.Context) {
	functions, err := d.repo.CriticalFunctions(c.Request.Context())
	if err != nil {
		d.serverError(c, err)
		return
	}
	if functions == nil {
		functions = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"functions": functions})
}

type criticalFunctionsRequest struct {
	Functions []string `json:"functions" binding:"required"`
}

func (d *Dashboard) replaceCriticalFunctions(c *gin.Context) {
	var req criticalFunctionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := d.repo.SaveCriticalFunctions(c.Request.Context(), req.Functions); err != nil {
		d.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"functions": req.Functions})
}

func (d *Dashboard) addCriticalFunction(c *gin.Context) {
	name := c.Param("name")
	functions, err := d.repo.CriticalFunctions(c.Request.Context())
	if err != nil {
		d.serverError(c, err)
		return
	}
	if !slices.Contains(functions, name) {
		functions = append(functions, name)
		if err := d.repo.SaveCriticalFunctions(c.Request.Context(), functions); err != nil {
			d.serverError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"functions": functions})
}

func (d *Dashboard) removeCriticalFunction(c *gin.Context) {
	name := c.Param("name")
	functions, err := d.repo.CriticalFunctions(c.Request.Context())
	if err != nil {
		d.serverError(c, err)
		return
	}
	filtered := slices.DeleteFunc(slices.Clone(functions), func(f string) bool { return f == name })
	if len(filtered) != len(functions) {
		if err := d.repo.SaveCriticalFunctions(c.Request.Context(), filtered); err != nil {
			d.serverError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"functions": filtered})
}

func (d *Dashboard) getScenarioPolicies(c *gin.Context) {
	policies, err := d.repo.ScenarioPolicies(c.Request.Context())
	if err != nil {
		d.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

type scenarioPoliciesRequest struct {
	Policies map[entity.Scenario]bool `json:"policies" binding:"required"`
}

func (d *Dashboard) updateScenarioPolicies(c *gin.Context) {
	var req scenarioPoliciesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := d.repo.SaveScenarioPolicies(c.Request.Context(), req.Policies); err != nil {
		d.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": req.Policies})
}

func (d *Dashboard) findIncident(c *gin.Context) (*entity.Incident, bool) {
	incident, err := d.repo.FindIncidentByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		d.serverError(c, err)
		return nil, false
	}
	if incident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return nil, false
	}
	return incident, true
}

func (d *Dashboard) serverError(c *gin.Context, err error) {
	slog.Error("Dashboard request failed", slog.String("path", c.FullPath()), slog.Any("err", err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// ルーン境界で切り詰め、マルチバイト文字を壊さない
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
