// Command profiletool inspects launcher calibration profiles: it lists them,
// looks up wheel speeds, converts speeds to motor voltage and plots curves.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/signalsfoundry/flywheel-launcher/core"
	"github.com/signalsfoundry/flywheel-launcher/profile"
)

const plotSamples = 120

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "profiletool:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "profiletool"
	app.Usage = "inspect flywheel launcher calibration profiles"
	app.Writer = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "profiles",
			Usage: "JSON profile set (built-in profiles when empty)",
		},
	}
	profileFlag := cli.StringFlag{
		Name:  "profile",
		Usage: "profile name (the set's default when empty)",
	}
	app.Commands = []cli.Command{
		{
			Name:   "list",
			Usage:  "list profiles with their safe ranges",
			Action: listAction,
		},
		{
			Name:      "lookup",
			Usage:     "print the wheel speed for each distance",
			ArgsUsage: "<distance_m>...",
			Flags:     []cli.Flag{profileFlag},
			Action:    lookupAction,
		},
		{
			Name:      "voltage",
			Usage:     "print the open-loop motor voltage for each wheel speed",
			ArgsUsage: "<wheel_rpm>...",
			Action:    voltageAction,
		},
		{
			Name:  "plot",
			Usage: "plot speed against distance as a PNG",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "profile",
					Usage: "profile name (every profile when empty)",
				},
				cli.StringFlag{
					Name:  "out",
					Value: "profiles.png",
					Usage: "output PNG path",
				},
			},
			Action: plotAction,
		},
	}
	return app
}

func loadRegistry(c *cli.Context) (*profile.Registry, error) {
	path := c.GlobalString("profiles")
	if path == "" {
		return profile.NewBuiltinRegistry()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return profile.LoadRegistry(f)
}

func pickTable(reg *profile.Registry, name string) (*profile.Table, error) {
	if name == "" {
		return reg.Default(), nil
	}
	t, ok := reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", profile.ErrProfileNotFound, name)
	}
	return t, nil
}

func parseFloats(args cli.Args) ([]float64, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one value is required")
	}
	vals := make([]float64, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", a)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func listAction(c *cli.Context) error {
	reg, err := loadRegistry(c)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tANGLE\tSAFE RANGE (m)\tDEFAULT RPM\tDESCRIPTION")
	for _, name := range reg.Names() {
		t, _ := reg.Get(name)
		marker := ""
		if name == reg.DefaultName() {
			marker = " *"
		}
		fmt.Fprintf(tw, "%s%s\t%.0f°\t%.1f-%.1f\t%.0f\t%s\n",
			name, marker, t.AngleDegrees(), t.MinSafeDistance(), t.MaxSafeDistance(), t.DefaultSpeed(), t.Description())
	}
	return tw.Flush()
}

func lookupAction(c *cli.Context) error {
	reg, err := loadRegistry(c)
	if err != nil {
		return err
	}
	t, err := pickTable(reg, c.String("profile"))
	if err != nil {
		return err
	}
	distances, err := parseFloats(c.Args())
	if err != nil {
		return err
	}
	for _, d := range distances {
		speed, rangeErr := t.SpeedForDistance(d)
		note := ""
		if rangeErr != nil {
			note = "  (" + rangeErr.Error() + ")"
		}
		fmt.Fprintf(c.App.Writer, "%s %.2fm -> %.0f rpm%s\n", t.Name(), d, speed, note)
	}
	return nil
}

func voltageAction(c *cli.Context) error {
	speeds, err := parseFloats(c.Args())
	if err != nil {
		return err
	}
	model := core.DefaultOpenLoopModel()
	for _, rpm := range speeds {
		v := model.Voltage(rpm)
		fmt.Fprintf(c.App.Writer, "%.0f rpm -> %.2f V (motor %.0f rpm, est. %.0f rpm)\n",
			rpm, v, model.WheelToMotor(rpm), model.EstimatedSpeed(v))
	}
	return nil
}

func plotAction(c *cli.Context) error {
	reg, err := loadRegistry(c)
	if err != nil {
		return err
	}
	tables := make([]*profile.Table, 0, len(reg.Names()))
	if name := c.String("profile"); name != "" {
		t, err := pickTable(reg, name)
		if err != nil {
			return err
		}
		tables = append(tables, t)
	} else {
		for _, name := range reg.Names() {
			t, _ := reg.Get(name)
			tables = append(tables, t)
		}
	}

	p, err := curvePlot(tables)
	if err != nil {
		return err
	}
	out := c.String("out")
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, out); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", out)
	return nil
}

// curvePlot draws each table's interpolated curve over its control-point
// domain, with the control points marked.
func curvePlot(tables []*profile.Table) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Launcher calibration"
	p.X.Label.Text = "distance (m)"
	p.Y.Label.Text = "wheel speed (rpm)"
	p.Add(plotter.NewGrid())

	for i, t := range tables {
		lo, hi := t.Domain()
		curve := make(plotter.XYs, plotSamples)
		for j := range curve {
			d := lo + (hi-lo)*float64(j)/float64(plotSamples-1)
			speed, _ := t.SpeedForDistance(d)
			curve[j].X, curve[j].Y = d, speed
		}
		line, err := plotter.NewLine(curve)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(2)

		points := t.Points()
		marks := make(plotter.XYs, len(points))
		for j, pt := range points {
			marks[j].X, marks[j].Y = pt.Distance, pt.Speed
		}
		scatter, err := plotter.NewScatter(marks)
		if err != nil {
			return nil, err
		}
		scatter.Color = plotutil.Color(i)
		scatter.Shape = plotutil.Shape(i)

		p.Add(line, scatter)
		p.Legend.Add(t.Name(), line, scatter)
	}
	p.Legend.Top = false
	p.Legend.Left = true
	return p, nil
}
