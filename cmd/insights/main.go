package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-insights/analytics"
	"github.com/nvr-ai/go-insights/config"
	"github.com/nvr-ai/go-insights/export"
	"github.com/nvr-ai/go-insights/insights"
	"github.com/nvr-ai/go-insights/logging"
	"github.com/nvr-ai/go-insights/project"
	"github.com/nvr-ai/go-insights/results"
)

var (
	cfgFile string
	verbose bool

	pollInterval time.Duration
	analysisType string
	model        string
	narrate      bool
	exportFormat string
	exportOut    string
)

func main() {
	ctx := context.Background()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "insights",
	Short: "insights - video object tracking and analytics",
	Long:  "Extracts frames from a video, detects, tracks and segments objects, and derives anomalies and activities.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./insights.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	segmentCmd.Flags().DurationVar(&pollInterval, "poll", time.Second, "progress polling interval")
	analyzeCmd.Flags().StringVar(&analysisType, "type", insights.TypeGeneric, "analysis type: generic, traffic, retail, sports, security")
	analyzeCmd.Flags().StringVar(&model, "model", "", "OpenRouter model override")
	analyzeCmd.Flags().BoolVar(&narrate, "narrate", false, "ask the configured model to narrate the analysis")
	exportCmd.Flags().StringVar(&exportFormat, "format", string(export.FormatYOLO), "dataset format: yolo or coco")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "dataset.zip", "output archive")

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(segmentCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(anomaliesCmd)
	rootCmd.AddCommand(activitiesCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(configCmd)
}

func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(config.FromContext(cmd.Context()), log.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()
	return fn(a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var segmentCmd = &cobra.Command{
	Use:   "segment [video]",
	Short: "Create a project from a video and segment it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.WithComponent("cli")
		return withApp(cmd, func(a *app) error {
			ctx := cmd.Context()
			p, err := a.manager.Create(ctx, args[0])
			if err != nil {
				return err
			}

			if err := a.manager.StartSegmentation(ctx, p.ID); err != nil {
				return err
			}

			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()
			last := ""
			for {
				view, err := a.manager.Progress(ctx, p.ID)
				if err != nil {
					return err
				}
				if msg := fmt.Sprintf("%3d%% %s", view.Percent, view.Message); msg != last {
					logger.Info().Str("project_id", p.ID).Msg(msg)
					last = msg
				}
				if !view.Status.InProgress() {
					a.manager.Wait()
					if view.Status == project.StatusFailed {
						return fmt.Errorf("segmentation failed: %s", view.Message)
					}
					return printJSON(view)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [project-id]",
	Short: "Show a project's state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			p, err := a.manager.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(p)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			projects, err := a.manager.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range projects {
				fmt.Printf("%s  %-10s  %s\n", p.ID, p.Status, p.VideoFilename)
			}
			return nil
		})
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [project-id]",
	Short: "Run anomaly and activity analysis on a segmented project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			analysis, err := a.manager.Analyze(cmd.Context(), args[0], project.AnalyzeOptions{
				Type:    analysisType,
				Model:   model,
				Narrate: narrate,
			})
			if err != nil {
				return err
			}
			return printJSON(analysis)
		})
	},
}

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies [artifact]",
	Short: "Detect anomalies in a segmentation artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := results.Load(args[0])
		if err != nil {
			return err
		}
		return printJSON(analytics.DetectAnomalies(result))
	},
}

var activitiesCmd = &cobra.Command{
	Use:   "activities [artifact]",
	Short: "Segment a segmentation artifact into activities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := results.Load(args[0])
		if err != nil {
			return err
		}
		return printJSON(analytics.DetectActivities(result))
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [project-id]",
	Short: "Export an analyzed project as a YOLO or COCO dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			if err := a.manager.Export(cmd.Context(), args[0], format, exportOut); err != nil {
				return err
			}
			log.Info().Str("project_id", args[0]).Str("out", exportOut).Msg("dataset exported")
			return nil
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "insights.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}
