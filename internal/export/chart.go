package export

import (
	"bytes"
	"fmt"
	"io"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/bkoppe/bode/internal/analysis"
	"github.com/bkoppe/bode/pkg/models"
)

// ChartOptions tune the rendered Bode charts.
type ChartOptions struct {
	// Smooth adds a dashed Savitzky-Golay smoothed overlay.
	Smooth bool
	Width  int
	Height int
}

func (o *ChartOptions) applyDefaults() {
	if o.Width == 0 {
		o.Width = 1024
	}
	if o.Height == 0 {
		o.Height = 512
	}
}

// smoothing parameters match the classic savgol_filter(data, 9, 3) call.
const (
	smoothWindow = 9
	smoothOrder  = 3
)

// RenderAmplitude draws the gain-vs-frequency chart (log-x, dB-y) as PNG.
func RenderAmplitude(results []models.MeasurementResult, w io.Writer, opts ChartOptions) error {
	freqs, gains := splitAmplitude(results)
	return renderChart(w, opts, "Amplitude", "Gain [dB]", freqs, gains)
}

// RenderPhase draws the phase-vs-frequency chart (log-x, degrees-y) as PNG.
// Results without a phase value are skipped.
func RenderPhase(results []models.MeasurementResult, w io.Writer, opts ChartOptions) error {
	var freqs, phases []float64
	for _, res := range results {
		if res.PhaseDeg == nil {
			continue
		}
		freqs = append(freqs, res.Frequency)
		phases = append(phases, *res.PhaseDeg)
	}
	return renderChart(w, opts, "Phase", "Phase [deg]", freqs, phases)
}

// WritePNGs renders the amplitude chart and, when withPhase is set, the
// phase chart next to it, using the given path prefix.
func WritePNGs(results []models.MeasurementResult, prefix string, withPhase bool, opts ChartOptions) error {
	amp := prefix + "_amplitude.png"
	var buf bytes.Buffer
	if err := RenderAmplitude(results, &buf, opts); err != nil {
		return &WriteError{Path: amp, Err: err}
	}
	if err := atomicWrite(amp, buf.Bytes()); err != nil {
		return err
	}

	if !withPhase {
		return nil
	}
	phase := prefix + "_phase.png"
	buf.Reset()
	if err := RenderPhase(results, &buf, opts); err != nil {
		return &WriteError{Path: phase, Err: err}
	}
	return atomicWrite(phase, buf.Bytes())
}

func renderChart(w io.Writer, opts ChartOptions, title, yName string, freqs, values []float64) error {
	opts.applyDefaults()

	if len(freqs) == 0 {
		return fmt.Errorf("export: no data points to chart")
	}
	// go-chart needs at least two X values; pad a lone point.
	if len(freqs) == 1 {
		freqs = append(freqs, freqs[0]*1.01)
		values = append(values, values[0])
	}

	series := []chart.Series{
		chart.ContinuousSeries{
			Name:    "Measured",
			XValues: freqs,
			YValues: values,
			Style: chart.Style{
				StrokeColor: chart.ColorBlue,
			},
		},
	}
	if opts.Smooth && len(values) >= smoothWindow {
		series = append(series, chart.ContinuousSeries{
			Name:    "Smoothed",
			XValues: freqs,
			YValues: analysis.SavitzkyGolay(values, smoothWindow, smoothOrder),
			Style: chart.Style{
				StrokeColor:     chart.ColorRed,
				StrokeDashArray: []float64{5, 5},
			},
		})
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s diagram (N=%d)", title, len(values)),
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: chart.XAxis{
			Name:  "Frequency [Hz]",
			Range: &chart.LogarithmicRange{},
		},
		YAxis: chart.YAxis{
			Name: yName,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

func splitAmplitude(results []models.MeasurementResult) (freqs, gains []float64) {
	freqs = make([]float64, len(results))
	gains = make([]float64, len(results))
	for i, res := range results {
		freqs[i] = res.Frequency
		gains[i] = res.GainDB
	}
	return freqs, gains
}
