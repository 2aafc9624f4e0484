package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/helix-research/dossier/config"
	"github.com/helix-research/dossier/internal/citation"
	"github.com/helix-research/dossier/internal/runtime"
	srv "github.com/helix-research/dossier/internal/server"
	"github.com/helix-research/dossier/internal/tracker"
	"github.com/helix-research/dossier/internal/upstream"
)

func main() {
	var root = &cobra.Command{Use: "dossier"}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the dossier gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveAddr == "" {
				serveAddr = os.Getenv("DOSSIER_HTTP_ADDR")
			}
			return srv.Run(cfgPath, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address")

	var topic, persona string
	var analyze = &cobra.Command{
		Use:   "analyze <company_id>",
		Short: "Trigger an analysis and follow it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			engine := upstream.NewClient(cfg.Upstream.BaseURL, runtime.StaticToken(cfg.Upstream.Token), cfg.Upstream.Timeout)
			trk := tracker.New(engine, tracker.Options{
				Interval:   cfg.Upstream.PollInterval,
				Timeout:    cfg.Upstream.PollTimeout,
				StartDelay: cfg.Upstream.StartDelay,
			})
			job := trk.Start(context.Background(), args[0], upstream.JobParams{Topic: topic, Persona: persona})
			for {
				select {
				case snap := <-job.Updates():
					fmt.Printf("%s (%d%%) %s\n", args[0], snap.Progress, snap.StepLabel)
				case <-job.Done():
					snap := job.Snapshot()
					switch snap.Phase {
					case tracker.PhaseCompleted:
						fmt.Printf("%s completed, report %s\n", args[0], snap.ReportID)
						return nil
					case tracker.PhaseTimedOut:
						return fmt.Errorf("analysis timed out: %s", snap.Err)
					default:
						return fmt.Errorf("analysis failed: %s", snap.Err)
					}
				}
			}
		},
	}
	analyze.Flags().StringVar(&topic, "topic", "", "analysis topic")
	analyze.Flags().StringVar(&persona, "persona", "", "analyst persona")

	var reports = &cobra.Command{
		Use:   "reports <company_id>",
		Short: "List fetched reports for a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			engine := upstream.NewClient(cfg.Upstream.BaseURL, runtime.StaticToken(cfg.Upstream.Token), cfg.Upstream.Timeout)
			items, err := engine.Reports(context.Background(), args[0])
			if err != nil {
				return err
			}
			for _, rep := range items {
				fmt.Printf("%s\t%s\t%s\n", rep.ID, rep.CreatedAt.Format(time.RFC3339), rep.Topic)
			}
			return nil
		},
	}

	var render = &cobra.Command{
		Use:   "render <company_id> <report_id>",
		Short: "Render a report as HTML with resolved citations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			engine := upstream.NewClient(cfg.Upstream.BaseURL, runtime.StaticToken(cfg.Upstream.Token), cfg.Upstream.Timeout)
			items, err := engine.Reports(context.Background(), args[0])
			if err != nil {
				return err
			}
			for _, rep := range items {
				if rep.ID != args[1] {
					continue
				}
				renderer := &citation.Renderer{
					Registry: citation.BuildRegistry(rep.RegistrySources()),
					Tokens:   runtime.StaticToken(cfg.Upstream.Token),
				}
				fmt.Println(renderer.HTML(rep.Summary))
				if rep.Findings != "" {
					fmt.Println(renderer.HTML(rep.Findings))
				}
				return nil
			}
			return fmt.Errorf("report %s not found for %s", args[1], args[0])
		},
	}

	var subject string
	var ttl time.Duration
	var token = &cobra.Command{
		Use:   "token",
		Short: "Mint a gateway JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			tok, err := runtime.SignJWT(subject, []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "analyst", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	root.AddCommand(serve, analyze, reports, render, token)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
