package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"slices"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/httputil"
)

// attachDebugRoutes registers the tsweb debug pages owned by the API.
func (s *Server) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("tracks", "scatter plot of each device's position history", s.handleTracksChart)
	debug.KVFunc("Link", func() any { return s.t.Status().Link.String() })
}

// handleTracksChart renders the raw position history of every device as one
// scatter series per device, in node coordinates.
func (s *Server) handleTracksChart(w http.ResponseWriter, r *http.Request) {
	tracks := s.t.Tracks()

	ids := make([]string, 0, len(tracks))
	for id := range tracks {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	pad := 1.0
	points := 0
	for _, id := range ids {
		for _, p := range tracks[id] {
			pad = math.Max(pad, math.Max(math.Abs(p.X), math.Abs(p.Y)))
			points++
		}
	}
	pad = math.Ceil(pad + 0.5)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "UWB Tracks", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Device tracks", Subtitle: fmt.Sprintf("devices=%d points=%d", len(ids), points)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	// the node sits at the origin
	scatter.AddSeries("node", []opts.ScatterData{{Value: []interface{}{0, 0}, Symbol: "diamond", SymbolSize: 14}})
	for _, id := range ids {
		data := make([]opts.ScatterData, 0, len(tracks[id]))
		for _, p := range tracks[id] {
			data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
		}
		scatter.AddSeries(id, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
