package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"papercast/common"
	"papercast/pipelines/deck"
)

func main() {
	app := &cli.App{
		Name:  "papercast",
		Usage: "turn an academic PDF into a narrated slide video",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "process one PDF from the command line",
				ArgsUsage: "<paper.pdf>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "output", Usage: "output directory"},
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
					&cli.BoolFlag{Name: "slides-only", Usage: "stop after rendering frames, skip narration and video"},
					&cli.IntFlag{Name: "max-slides", Usage: "override configured slide count"},
				},
				Action: runCommand,
			},
			{
				Name:  "serve",
				Usage: "accept PDF uploads over HTTP and process them on a worker pool",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address"},
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "output", Usage: "base directory for uploads and job output"},
					&cli.IntFlag{Name: "workers", Value: 2, Usage: "concurrent pipeline workers"},
					&cli.StringFlag{Name: "db", Value: "papercast.db", Usage: "job database path"},
				},
				Action: serveCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (common.Config, error) {
	cfg, err := common.LoadConfig(c.String("config"))
	if err != nil {
		return common.Config{}, err
	}
	cfg.OutputDir = c.String("output")
	if c.Bool("slides-only") {
		cfg.Mode = "slides"
	}
	if n := c.Int("max-slides"); n > 0 {
		cfg.MaxSlides = n
	}
	return cfg, cfg.Validate()
}

func runCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one PDF path, got %d arguments", c.NArg())
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg.PDFPath = c.Args().First()

	if !strings.EqualFold(filepath.Ext(cfg.PDFPath), ".pdf") {
		return fmt.Errorf("input %s is not a PDF", cfg.PDFPath)
	}

	logger := common.NewLogger(cfg.LogLevel)

	pipeline, err := deck.NewPipeline(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	run := deck.NewPipelineRun(logger)
	output, err := pipeline.Run(c.Context, run)
	if err != nil {
		return err
	}

	logger.WithField("output", output).Info("done")
	return nil
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := common.NewLogger(cfg.LogLevel)

	server, err := NewPipelineServer(cfg, c.Int("workers"), c.String("db"), logger)
	if err != nil {
		return err
	}
	defer server.Shutdown()

	return server.Serve(c.String("addr"))
}
