// Package forecast は日次インシデント件数の傾向を最小二乗法で推定し、
// 直近7日分の件数を予測する
package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/pyama86/RCRA/domain/entity"
)

type Trend string

const (
	TrendIncreasing       Trend = "increasing"
	TrendDecreasing       Trend = "decreasing"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

// DailyCount は1日分のインシデント件数。
// インシデントが1件も無い日はゼロ埋めせず系列に現れない
type DailyCount struct {
	Day   int       `json:"day"`
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
}

type Prediction struct {
	Day   int     `json:"day"`
	Date  string  `json:"date"`
	Count float64 `json:"predicted_count"`
}

type Forecast struct {
	Slope            float64      `json:"slope"`
	Intercept        float64      `json:"intercept"`
	Trend            Trend        `json:"trend"`
	Confidence       float64      `json:"confidence"`
	Predictions      []Prediction `json:"predictions"`
	NextWeekTotal    float64      `json:"next_week_total"`
	CurrentWeekTotal int          `json:"current_week_total"`
	ChangePercent    float64      `json:"change_percent"`
}

const (
	minSamples      = 3
	horizonDays     = 7
	slopeThreshold  = 0.5
	DefaultLookback = 30
)

// BuildDailySeries はインシデントの作成時刻を暦日にバケットし、
// day indexが単調増加する疎な系列を組み立てる
func BuildDailySeries(incidents []entity.Incident, now time.Time, lookbackDays int) []DailyCount {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookback
	}
	windowStart := now.UTC().AddDate(0, 0, -lookbackDays).Truncate(24 * time.Hour)

	counts := map[int]int{}
	for _, incident := range incidents {
		created := incident.CreatedAt.UTC()
		if created.Before(windowStart) || created.After(now.UTC()) {
			continue
		}
		day := int(created.Truncate(24*time.Hour).Sub(windowStart).Hours() / 24)
		counts[day]++
	}

	series := make([]DailyCount, 0, len(counts))
	for day, count := range counts {
		series = append(series, DailyCount{
			Day:   day,
			Date:  windowStart.AddDate(0, 0, day),
			Count: count,
		})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Day < series[j].Day })
	return series
}

// Analyze は系列へ最小二乗直線を当て、7日先までの予測を返す。
// 3点未満では回帰をスキップしてinsufficient_dataを返す
func Analyze(series []DailyCount, now time.Time) *Forecast {
	result := &Forecast{
		CurrentWeekTotal: currentWeekTotal(series),
	}

	if len(series) < minSamples {
		result.Trend = TrendInsufficientData
		result.Intercept = meanCount(series)
		return result
	}

	slope, intercept := leastSquares(series)
	result.Slope = slope
	result.Intercept = intercept
	result.Confidence = confidence(series, slope, intercept)

	switch {
	case slope > slopeThreshold:
		result.Trend = TrendIncreasing
	case slope < -slopeThreshold:
		result.Trend = TrendDecreasing
	default:
		result.Trend = TrendStable
	}

	lastDay := series[len(series)-1].Day
	for i := 1; i <= horizonDays; i++ {
		day := lastDay + i
		predicted := math.Max(0, slope*float64(day)+intercept)
		predicted = round1(predicted)
		result.Predictions = append(result.Predictions, Prediction{
			Day:   day,
			Date:  now.UTC().AddDate(0, 0, i).Format("2006-01-02"),
			Count: predicted,
		})
		result.NextWeekTotal += predicted
	}
	result.NextWeekTotal = round1(result.NextWeekTotal)

	if result.CurrentWeekTotal > 0 {
		change := (result.NextWeekTotal - float64(result.CurrentWeekTotal)) / float64(result.CurrentWeekTotal) * 100
		result.ChangePercent = round1(change)
	}

	return result
}

func leastSquares(series []DailyCount) (slope, intercept float64) {
	n := float64(len(series))
	var sumX, sumY float64
	for _, p := range series {
		sumX += float64(p.Day)
		sumY += float64(p.Count)
	}
	meanX := sumX / n
	meanY := sumY / n

	var num, den float64
	for _, p := range series {
		dx := float64(p.Day) - meanX
		num += dx * (float64(p.Count) - meanY)
		den += dx * dx
	}
	// day indexは相異なるのでdenは通常正だが、念のためゼロ割は避ける
	if den == 0 {
		return 0, meanY
	}
	slope = num / den
	intercept = meanY - slope*meanX
	return slope, intercept
}

func confidence(series []DailyCount, slope, intercept float64) float64 {
	meanY := meanCount(series)

	var ssRes, ssTot float64
	for _, p := range series {
		predicted := slope*float64(p.Day) + intercept
		ssRes += (float64(p.Count) - predicted) * (float64(p.Count) - predicted)
		ssTot += (float64(p.Count) - meanY) * (float64(p.Count) - meanY)
	}

	if ssTot == 0 {
		return 0
	}
	r2 := 1 - ssRes/ssTot
	return math.Min(100, math.Max(0, r2*100))
}

// 現在週の件数: 観測済みの末尾7点(足りなければ全部)の合計
func currentWeekTotal(series []DailyCount) int {
	start := 0
	if len(series) > horizonDays {
		start = len(series) - horizonDays
	}
	total := 0
	for _, p := range series[start:] {
		total += p.Count
	}
	return total
}

func meanCount(series []DailyCount) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, p := range series {
		sum += float64(p.Count)
	}
	return sum / float64(len(series))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
