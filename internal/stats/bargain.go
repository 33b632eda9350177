package stats

import "github.com/hitoshi/marketwatch/internal/model"

// Evaluation はお買い得判定の結果を表す。
type Evaluation struct {
	// LowestCurrentPrice は現在の出品の最安値。出品がない場合はnil。
	LowestCurrentPrice *int
	// IsBelowYesterdayAvg は最安値が昨日平均を厳密に下回るか。統計がない場合はfalse。
	IsBelowYesterdayAvg bool
	// IsBelowWeekAvg は最安値が7日平均を厳密に下回るか。統計がない場合はfalse。
	IsBelowWeekAvg bool
	// IsGoodDeal は昨日平均と7日平均の両方を下回るか。
	IsGoodDeal bool
	// PriceDiffPercent は7日平均に対する最安値の乖離率（%）。
	// 最安値または7日平均がない場合、7日平均が0の場合はnil。
	PriceDiffPercent *float64
}

// Evaluate はMonitorResultからお買い得判定を行う。
// 副作用なし、I/Oなし、同一入力に対して常に同一の結果を返す。
func Evaluate(result *model.MonitorResult) Evaluation {
	var ev Evaluation
	if result == nil {
		return ev
	}

	for _, d := range result.Deals {
		if ev.LowestCurrentPrice == nil || d.Price < *ev.LowestCurrentPrice {
			price := d.Price
			ev.LowestCurrentPrice = &price
		}
	}

	st := result.Statistics
	if ev.LowestCurrentPrice == nil || st == nil {
		return ev
	}

	lowest := float64(*ev.LowestCurrentPrice)
	if st.YesterdayAverage != nil && lowest < *st.YesterdayAverage {
		ev.IsBelowYesterdayAvg = true
	}
	if st.Week7Average != nil && lowest < *st.Week7Average {
		ev.IsBelowWeekAvg = true
	}
	ev.IsGoodDeal = ev.IsBelowYesterdayAvg && ev.IsBelowWeekAvg

	if st.Week7Average != nil && *st.Week7Average != 0 {
		diff := (lowest - *st.Week7Average) / *st.Week7Average * 100
		ev.PriceDiffPercent = &diff
	}

	return ev
}
