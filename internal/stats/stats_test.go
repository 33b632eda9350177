package stats

import (
	"testing"
	"time"

	"github.com/hitoshi/marketwatch/internal/model"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("日付のパースに失敗した: %v", err)
	}
	return d
}

func TestCompute_EmptyHistory(t *testing.T) {
	now := day(t, "2026-08-24").Add(12 * time.Hour)

	s := Compute(nil, now)

	if s.YesterdayAverage != nil {
		t.Errorf("履歴なしのYesterdayAverageはnilであるべき: got %v", *s.YesterdayAverage)
	}
	if s.Week7Average != nil || s.Week7Min != nil || s.Week7Max != nil {
		t.Error("履歴なしの7日統計はnilであるべき")
	}
}

func TestCompute_YesterdayAndWeek(t *testing.T) {
	now := day(t, "2026-08-24").Add(12 * time.Hour)

	history := []model.PriceHistoryPoint{
		{Date: day(t, "2026-08-23"), LowPrice: 150}, // 昨日
		{Date: day(t, "2026-08-22"), LowPrice: 130},
		{Date: day(t, "2026-08-20"), LowPrice: 170},
		{Date: day(t, "2026-08-18"), LowPrice: 110},
	}

	s := Compute(history, now)

	if s.YesterdayAverage == nil || *s.YesterdayAverage != 150 {
		t.Errorf("YesterdayAverage = %v, want 150", s.YesterdayAverage)
	}
	if s.Week7Average == nil || *s.Week7Average != 140 {
		t.Errorf("Week7Average = %v, want 140", s.Week7Average)
	}
	if s.Week7Min == nil || *s.Week7Min != 110 {
		t.Errorf("Week7Min = %v, want 110", s.Week7Min)
	}
	if s.Week7Max == nil || *s.Week7Max != 170 {
		t.Errorf("Week7Max = %v, want 170", s.Week7Max)
	}
}

func TestCompute_ExcludesToday(t *testing.T) {
	now := day(t, "2026-08-24").Add(12 * time.Hour)

	history := []model.PriceHistoryPoint{
		{Date: day(t, "2026-08-24"), LowPrice: 10}, // 当日分は含まない
		{Date: day(t, "2026-08-23"), LowPrice: 100},
	}

	s := Compute(history, now)

	if s.Week7Min == nil || *s.Week7Min != 100 {
		t.Errorf("Week7Min = %v, want 100（当日分の10は含まない）", s.Week7Min)
	}
}

func TestCompute_ExcludesOlderThanWeek(t *testing.T) {
	now := day(t, "2026-08-24").Add(12 * time.Hour)

	history := []model.PriceHistoryPoint{
		{Date: day(t, "2026-08-10"), LowPrice: 1}, // 7日より前
		{Date: day(t, "2026-08-23"), LowPrice: 100},
	}

	s := Compute(history, now)

	if s.Week7Min == nil || *s.Week7Min != 100 {
		t.Errorf("Week7Min = %v, want 100（8日以上前の1は含まない）", s.Week7Min)
	}
}
