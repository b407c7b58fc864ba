package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/events"
	"codeberg.org/mutker/inferctl/internal/scheduler"
	"github.com/spf13/cobra"
)

// sampleTask is the request size used for the sample optimisation.
var sampleTask = scheduler.Task{PromptTokens: 512, MaxTokens: 512}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the device profile and a thermal sample",
	Args:  cobra.NoArgs,
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := openStack(cfg, events.Nop())
	if err != nil {
		return err
	}
	defer st.close()

	reading, err := st.monitor.Sample(ctx)
	if err != nil {
		return err
	}
	load, err := st.source.Load(ctx)
	if err != nil {
		return err
	}
	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return err
	}

	profile := st.source.Profile()
	state := st.monitor.CurrentState()
	mode := schedCfg.InitialMode
	if ceiling := scheduler.Ceiling(state); ceiling < mode {
		mode = ceiling
	}
	threads := scheduler.PolicyThreads(profile, mode, state)
	opt := scheduler.Optimize(scheduler.Inputs{
		Mode:                mode,
		Thermal:             state,
		Profile:             profile,
		MemoryPressure:      load.MemoryPressure,
		MemoryPressureRatio: schedCfg.MemoryPressureRatio,
	}, sampleTask)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	row(w, "class", profile.Class)
	row(w, "cores", profile.Cores)
	row(w, "ram_mb", profile.RAMMB())
	row(w, "gpu", profile.Has(device.CapGPU))
	row(w, "fp16", profile.Has(device.CapFP16))
	row(w, "int8", profile.Has(device.CapINT8))
	if profile.AcceleratorName != "" {
		row(w, "accelerator", profile.AcceleratorName)
	}
	row(w, "cpu_percent", fmt.Sprintf("%.1f", load.CPUPercent))
	row(w, "memory_pressure", fmt.Sprintf("%.2f", load.MemoryPressure))
	row(w, "temperature", fmt.Sprintf("%.1f", reading.Value))
	row(w, "thermal_state", state)
	row(w, "mode", mode)
	row(w, "inference_threads", threads.Inference)
	row(w, "background_threads", threads.Background)
	row(w, "strategy", opt.Strategy)
	row(w, "precision", opt.Precision)
	row(w, "batch_size", opt.BatchSize)
	row(w, "use_accelerator", opt.UseAccelerator)
	row(w, "estimated_latency_ms", fmt.Sprintf("%.0f", opt.EstimatedLatency))

	return w.Flush()
}

func row(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "%s\t%v\n", key, value)
}
