package main

import (
	"fmt"
	"io"
	"strings"

	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/events"
	"codeberg.org/mutker/inferctl/internal/logger"
	"codeberg.org/mutker/inferctl/internal/scheduler"
	"codeberg.org/mutker/inferctl/internal/session"
	"codeberg.org/mutker/inferctl/internal/workerpool"
	"github.com/spf13/cobra"
)

var genFlags struct {
	system      string
	maxTokens   int
	temperature float32
	topK        int
	topP        float32
	stop        []string
}

var generateCmd = &cobra.Command{
	Use:   "generate MODEL PROMPT...",
	Short: "Load a model and stream one response to stdout",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genFlags.system, "system", "", "System prompt")
	f.IntVar(&genFlags.maxTokens, "max-tokens", 0, "Maximum tokens to generate (0 uses the configured default)")
	f.Float32Var(&genFlags.temperature, "temperature", 0, "Sampling temperature (0 uses the configured default)")
	f.IntVar(&genFlags.topK, "top-k", 0, "Top-k sampling (0 uses the configured default)")
	f.Float32Var(&genFlags.topP, "top-p", 0, "Top-p sampling (0 uses the configured default)")
	f.StringSliceVar(&genFlags.stop, "stop", nil, "Stop sequences")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	errFactory := errors.New()

	models, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	desc, err := models.Resolve(args[0])
	if err != nil {
		return err
	}

	st, err := openStack(cfg, events.Nop())
	if err != nil {
		return err
	}
	defer st.close()

	// one sample so the scheduler starts from the real thermal state
	if _, err := st.monitor.Sample(ctx); err != nil {
		logger.Warn().Err(err).Msg("Thermal sample failed, assuming NORMAL")
	}

	profile := st.source.Profile()
	pools, err := workerpool.NewSet(ctx, device.DefaultInferenceThreads(profile), device.DefaultBackgroundThreads(profile))
	if err != nil {
		return err
	}
	defer func() {
		if err := pools.Close(poolDrainTimeout); err != nil {
			logger.Warn().Err(err).Msg("Worker pools did not drain in time")
		}
	}()

	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return err
	}
	opts := []scheduler.Option{scheduler.WithLogger(logger.Component("scheduler"))}
	if gov := st.powerGovernor(cfg); gov != nil {
		opts = append(opts, scheduler.WithPowerGovernor(gov))
	}
	sched, err := scheduler.New(schedCfg, st.source, st.monitor, pools, opts...)
	if err != nil {
		return err
	}

	mgr, err := newManager(cfg, sched, events.Nop(), session.WithPools(pools))
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to unload model")
		}
	}()

	if err := mgr.LoadModel(ctx, desc); err != nil {
		return err
	}
	sess, err := mgr.CreateSession("", session.Options{SystemPrompt: genFlags.system})
	if err != nil {
		return err
	}

	stream := mgr.GenerateResponse(ctx, sess.ID, strings.Join(args[1:], " "), session.Params{
		MaxTokens:   genFlags.maxTokens,
		Temperature: genFlags.temperature,
		TopK:        genFlags.topK,
		TopP:        genFlags.topP,
		Stop:        genFlags.stop,
	})
	defer stream.Close()

	out := cmd.OutOrStdout()
	for ev := range stream.Events() {
		switch ev.Kind {
		case session.EventToken:
			if _, err := io.WriteString(out, ev.Token.Text); err != nil {
				return err
			}
		case session.EventCompleted:
			fmt.Fprintln(out)
			logger.Debug().
				Int("tokens", ev.Tokens).
				Str("finish", string(ev.Finish)).
				Str("mode", sched.CurrentMode().String()).
				Msg("Generation completed")
			return nil
		case session.EventSafetyViolation:
			fmt.Fprintln(out)
			return errFactory.WithData(errors.ErrSafetyViolation, ev.Reason)
		case session.EventError:
			fmt.Fprintln(out)
			return ev.Err
		}
	}
	return nil
}
