// trace-plot renders driver speed traces from a cached session archive.
//
// Usage:
//
//	trace-plot -cache-dir replay-cache -session 2024_6_R -drivers VER,NOR -out traces.svg
package main

import (
	"flag"
	"image/color"
	"log"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/gridline-data/apex.replay/internal/replaylog"
	"github.com/gridline-data/apex.replay/internal/telemetry"
)

var (
	cacheDir  = flag.String("cache-dir", "replay-cache", "Directory of processed session archives")
	sessionID = flag.String("session", "", "Session id, e.g. 2024_6_R")
	drivers   = flag.String("drivers", "", "Comma-separated driver codes (default: all)")
	out       = flag.String("out", "traces.svg", "Output image path (.svg or .png)")
)

var palette = []color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	color.RGBA{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	color.RGBA{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
}

func main() {
	flag.Parse()
	if *sessionID == "" {
		log.Fatal("-session is required")
	}

	key, err := telemetry.ParseSessionKey(*sessionID)
	if err != nil {
		log.Fatalf("bad session id: %v", err)
	}

	store, err := replaylog.NewStore(*cacheDir)
	if err != nil {
		log.Fatalf("open cache: %v", err)
	}
	res, err := store.Load(key)
	if err != nil {
		log.Fatalf("load archive: %v", err)
	}
	if len(res.Frames) == 0 {
		log.Fatalf("session %s has no frames (qualifying archive?)", key)
	}

	want := map[string]bool{}
	for _, code := range strings.Split(*drivers, ",") {
		if code = strings.TrimSpace(code); code != "" {
			want[code] = true
		}
	}

	p := plot.New()
	p.Title.Text = "Speed traces " + key.String()
	p.X.Label.Text = "session time (s)"
	p.Y.Label.Text = "speed (km/h)"

	series := map[string]plotter.XYs{}
	for _, frame := range res.Frames {
		for code, d := range frame.Drivers {
			if len(want) > 0 && !want[code] {
				continue
			}
			series[code] = append(series[code], plotter.XY{X: frame.T, Y: d.Speed})
		}
	}
	if len(series) == 0 {
		log.Fatal("no matching drivers in archive")
	}

	i := 0
	for code, pts := range series {
		line, err := plotter.NewLine(pts)
		if err != nil {
			log.Fatalf("plot %s: %v", code, err)
		}
		line.Color = palette[i%len(palette)]
		p.Add(line)
		p.Legend.Add(code, line)
		i++
	}

	if err := p.Save(12*vg.Inch, 6*vg.Inch, *out); err != nil {
		log.Fatalf("save plot: %v", err)
	}
	log.Printf("wrote %s (%d drivers, %d frames)", *out, len(series), len(res.Frames))
}
