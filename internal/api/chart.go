package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// loadChart renders a quick HTML bar chart of recent load durations
// using go-echarts. Debugging-only endpoint for checking cache
// effectiveness without a frontend.
func (s *Server) loadChart(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "database disabled")
		return
	}
	records, err := s.db.LoadHistory(100)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load history: %v", err))
		return
	}

	labels := make([]string, 0, len(records))
	cached := make([]opts.BarData, 0, len(records))
	fetched := make([]opts.BarData, 0, len(records))
	// History comes newest first; reverse so the chart reads left to right.
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		labels = append(labels, rec.SessionID)
		ms := float64(rec.DurationMs)
		if rec.Source == "cache" {
			cached = append(cached, opts.BarData{Value: ms})
			fetched = append(fetched, opts.BarData{Value: 0})
		} else {
			cached = append(cached, opts.BarData{Value: 0})
			fetched = append(fetched, opts.BarData{Value: ms})
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Session Load History", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Session Load Durations", Subtitle: fmt.Sprintf("last %d loads, milliseconds", len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("cache", cached)
	bar.AddSeries("provider", fetched)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
