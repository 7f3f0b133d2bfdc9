package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"

	"depthcapture/capture"
	"depthcapture/config"
	"depthcapture/device"
	"depthcapture/persist"
	"depthcapture/viewer"
)

func init() {
	// highgui windows must stay on the main thread
	runtime.LockOSThread()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	flagConf := config.Default()

	cmd := &cobra.Command{
		Use:   "depthcapture <output-dir> [viewer-enabled]",
		Short: "Log synchronized color and depth frames from a depth camera",
		Long: "depthcapture opens one depth camera, waits for synchronized color/depth pairs " +
			"and writes them as numbered PNG files under <output-dir>/color and <output-dir>/depth.",
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := conf.ApplyFlags(cmd.Flags()); err != nil {
				return err
			}
			conf.OutputDir = args[0]
			if len(args) == 2 {
				if conf.Viewer, err = strconv.ParseBool(args[1]); err != nil {
					return fmt.Errorf("viewer-enabled must be a boolean: %w", err)
				}
			}
			source := configPath
			if source == "" {
				source = "flags"
			}
			if err := conf.Validate(source); err != nil {
				return err
			}
			return realMain(cmd.Context(), conf)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	flagConf.BindFlags(cmd.Flags())
	return cmd
}

func realMain(ctx context.Context, conf *config.Config) error {
	logger := logging.NewLogger("depthcapture")
	if conf.Debug {
		logger.SetLevel(logging.DEBUG)
	}

	devConf, err := conf.DeviceConfig()
	if err != nil {
		return err
	}
	loopConf, err := conf.LoopConfig()
	if err != nil {
		return err
	}

	writer := persist.NewWriter(conf.PersistOptions(), logger.Sublogger("persist"))
	if err := writer.Prepare(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := capture.NewMetrics(reg)
	if conf.MetricsAddr != "" {
		srv := &http.Server{Addr: conf.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warnw("metrics server stopped", "addr", conf.MetricsAddr, "error", err)
			}
		}()
		defer srv.Close()
	}

	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []capture.Option{
		capture.WithLogger(logger.Sublogger("capture")),
		capture.WithMetrics(metrics),
	}
	if conf.Viewer {
		view := viewer.New(viewer.NewWindows(viewer.ColorWindow, viewer.DepthWindow), cancel, conf.GetPollDelay())
		defer view.Close()
		opts = append(opts, capture.WithMonitor(view))
	}

	logger.Infow("launching capture", "family", conf.Family, "dir", conf.OutputDir,
		"budget", loopConf.Budget, "viewer", conf.Viewer)

	err = device.WithSession(ctx, devConf, logger, func(s device.Session) error {
		if in := s.Intrinsics(); in != nil {
			logger.Infof("depth camera principal point         : %v, %v", in.Ppx, in.Ppy)
			logger.Infof("depth camera focal length            : %v, %v", in.Fx, in.Fy)
		}
		stats, err := capture.Run(ctx, s, writer, loopConf, opts...)
		logger.Infof("elapsed time: %.3fs, no. of frames: %d (%d written, %d skipped)",
			stats.Elapsed.Seconds(), stats.Iterations, stats.Accepted, stats.Skipped)
		logger.Debugw("capture stopped", "reason", stats.Reason, "next_index", stats.NextIndex)
		return err
	})
	if err != nil {
		logger.Errorw("capture failed", "error", err)
		return err
	}
	logger.Info("capture complete")
	return nil
}
