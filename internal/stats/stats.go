// Package stats は価格履歴からの統計計算とお買い得判定を提供する。
// いずれも副作用とI/Oを持たない純粋関数。
package stats

import (
	"time"

	"github.com/hitoshi/marketwatch/internal/model"
)

// Compute は価格履歴からPriceStatisticsを計算する。
// 昨日平均は昨日0時から今日0時までの観測点、7日統計は7日前から今日0時までの
// 観測点（当日分は含まない）を対象とする。対象範囲に観測点がない統計はnilになる。
func Compute(history []model.PriceHistoryPoint, now time.Time) *model.PriceStatistics {
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfYesterday := startOfToday.AddDate(0, 0, -1)
	startOfWeek := startOfToday.AddDate(0, 0, -7)

	s := &model.PriceStatistics{}

	var ySum, yCount int
	var wSum, wCount int
	var wMin, wMax int

	for _, p := range history {
		if !p.Date.Before(startOfToday) {
			continue // 当日分は統計に含めない
		}

		if !p.Date.Before(startOfYesterday) {
			ySum += p.LowPrice
			yCount++
		}

		if !p.Date.Before(startOfWeek) {
			if wCount == 0 || p.LowPrice < wMin {
				wMin = p.LowPrice
			}
			if wCount == 0 || p.LowPrice > wMax {
				wMax = p.LowPrice
			}
			wSum += p.LowPrice
			wCount++
		}
	}

	if yCount > 0 {
		avg := float64(ySum) / float64(yCount)
		s.YesterdayAverage = &avg
	}
	if wCount > 0 {
		avg := float64(wSum) / float64(wCount)
		s.Week7Average = &avg
		min := wMin
		max := wMax
		s.Week7Min = &min
		s.Week7Max = &max
	}

	return s
}
