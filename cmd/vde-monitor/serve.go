package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/agentresolver"
	"github.com/yuki-yano/vde-monitor/internal/config"
	"github.com/yuki-yano/vde-monitor/internal/db"
	"github.com/yuki-yano/vde-monitor/internal/dispatch"
	"github.com/yuki-yano/vde-monitor/internal/gitquery"
	"github.com/yuki-yano/vde-monitor/internal/global"
	"github.com/yuki-yano/vde-monitor/internal/historydb"
	"github.com/yuki-yano/vde-monitor/internal/httpapi"
	"github.com/yuki-yano/vde-monitor/internal/jsonltail"
	"github.com/yuki-yano/vde-monitor/internal/logging"
	"github.com/yuki-yano/vde-monitor/internal/logpoller"
	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/monitorloop"
	"github.com/yuki-yano/vde-monitor/internal/muxbackend"
	"github.com/yuki-yano/vde-monitor/internal/paneprocessor"
	"github.com/yuki-yano/vde-monitor/internal/paneruntime"
	"github.com/yuki-yano/vde-monitor/internal/paneupdate"
	"github.com/yuki-yano/vde-monitor/internal/pipemanager"
	"github.com/yuki-yano/vde-monitor/internal/procinspect"
	"github.com/yuki-yano/vde-monitor/internal/progdetector"
	"github.com/yuki-yano/vde-monitor/internal/push"
	"github.com/yuki-yano/vde-monitor/internal/ratelimit"
	"github.com/yuki-yano/vde-monitor/internal/registry"
	"github.com/yuki-yano/vde-monitor/internal/screendelta"
	"github.com/yuki-yano/vde-monitor/internal/summarybus"
	"github.com/yuki-yano/vde-monitor/internal/timeline"
	"github.com/yuki-yano/vde-monitor/internal/tmux"
)

func runMigrateUp(_ context.Context, cfg config.Config) error {
	gdb, err := db.OpenSQLiteGORMWithMigrations(filepath.Join(cfg.BaseDir, "vde-monitor.db"))
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "serve"})

	configDir, err := global.DefaultConfigDir()
	if err != nil {
		return err
	}
	globalCfg, err := global.NewConfigStore(configDir).LoadOrInit()
	if err != nil {
		return err
	}

	gdb, err := db.OpenSQLiteGORMWithMigrations(filepath.Join(cfg.BaseDir, "vde-monitor.db"))
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	dirHistory, err := historydb.NewStore(sqlDB)
	if err != nil {
		return err
	}
	notes, err := historydb.NewNotesStore(gdb)
	if err != nil {
		return err
	}
	titles, err := historydb.NewTitleStore(gdb)
	if err != nil {
		return err
	}
	launchAudit, err := historydb.NewLaunchAuditStore(gdb)
	if err != nil {
		return err
	}

	adapter := tmux.NewAdapterWithSocket(&tmux.RealExec{}, cfg.TmuxSocket)
	pipeTag := fmt.Sprintf("vde-monitor-%s", cfg.ServerKey)
	backend := muxbackend.New(adapter, pipeTag)

	pipes := pipemanager.New(cfg.BaseDir, cfg.ServerKey, pipeTag, cfg.MaxLogBytes, cfg.RetainRotations, backend,
		logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "pipemanager"}))

	reg := registry.New()
	tl := timeline.New()
	runtime := paneruntime.New()
	viewed := paneprocessor.NewViewedTracker(time.Duration(cfg.ViewedRecentlyTTLMs) * time.Millisecond)
	git := gitquery.New()
	resolver := agentresolver.New(procinspect.New())

	processor := paneprocessor.New(resolver, pipes, backend, backend, git, titles, runtime, viewed,
		paneprocessor.Options{
			FingerprintIntervalMs: cfg.FingerprintIntervalMs,
			InactiveThresholdMs:   cfg.InactiveThresholdMs,
			RunningThresholdMs:    cfg.RunningThresholdMs,
			AttachOnServe:         true,
			PipeSupported:         true,
		},
		logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "paneprocessor"}))

	snapshots := paneupdate.NewSnapshotStore(filepath.Join(cfg.BaseDir, "state", cfg.ServerKey, "snapshot.json"))
	if snap, err := snapshots.Load(); err == nil {
		if len(snap.Sessions) > 0 {
			reg.Restore(snap.Sessions)
			processor.SetRestored(snap.Sessions)
		}
		if len(snap.Timeline) > 0 {
			tl.Restore(snap.Timeline)
		}
	} else {
		logger.Warn("snapshot load failed", "error", err)
	}

	bus := summarybus.New(summarybus.Options{
		BufferMs:      cfg.SummaryBufferMs,
		MaxEvents:     cfg.SummaryMaxEvents,
		MaxPerBinding: cfg.SummaryMaxPerBinding,
		MaxWaiters:    cfg.SummaryMaxWaiters,
		SequenceSkew:  cfg.SummarySequenceSkew,
	})

	subscriptions, err := push.NewSubscriptionStore(filepath.Join(cfg.BaseDir, "push", "subscriptions.json"))
	if err != nil {
		return err
	}
	vapid, err := push.LoadOrInitVAPID(filepath.Join(cfg.BaseDir, "push", "vapid.json"), "mailto:admin@localhost")
	if err != nil {
		return err
	}
	pusher := push.NewDispatcher(subscriptions, push.NewWebPushTransport(vapid), bus,
		push.DispatcherOptions{
			CooldownMs:    cfg.PushCooldownMs,
			WarnThreshold: cfg.PushWarnThreshold,
			SummaryWaitMs: cfg.SummaryDefaultWaitMs,
		},
		logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "push"}))

	sendLimiter := ratelimit.New(cfg.SendLimiterWindowMs, cfg.SendLimiterMax)
	rawLimiter := ratelimit.New(cfg.RawLimiterWindowMs, cfg.RawLimiterMax)
	dispatcher := dispatch.NewDispatcher(backend, sendLimiter, rawLimiter, processor, cfg.ReadOnly,
		logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "dispatch"}))
	sendText := dispatch.NewSendTextExecutor(dispatcher, time.Duration(cfg.SendIdempotencyTTLMs)*time.Millisecond)
	launcher := dispatch.NewLaunchExecutor(backend, sendLimiter, progdetector.ProgramDetectorRegistry, git,
		cfg.ReadOnly, time.Duration(cfg.LaunchIdempotencyTTLMs)*time.Millisecond, cfg.LaunchIdempotencyMax,
		logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "launch"}))

	server := httpapi.NewServer(httpapi.Deps{
		Registry:       reg,
		Timeline:       tl,
		Screens:        backend,
		ScreenCache:    screendelta.New(cfg.ScreenDeltaCacheLimit),
		ScreenLimiter:  ratelimit.New(cfg.SendLimiterWindowMs, cfg.SendLimiterMax*4),
		Viewed:         viewed,
		SendText:       sendText,
		Dispatcher:     dispatcher,
		Launcher:       launcher,
		Push:           pusher,
		Subscriptions:  subscriptions,
		SummaryBus:     bus,
		Git:            git,
		Notes:          notes,
		Titles:         titles,
		LaunchAudit:    launchAudit,
		DirHistory:     dirHistory,
		AuthToken:      cfg.AuthToken,
		PushEnabled:    true,
		VAPIDPublicKey: vapid.PublicKey,
		ClientConfig:   globalCfg.Client,
		Logger:         logger,
	})
	hub := server.Hub()

	sink := func(ev model.SessionTransitionEvent) {
		pusher.HandleTransition(ctx, ev)
		hub.Publish("session.transition", ev.PaneID, map[string]any{
			"state":  ev.Next.State,
			"reason": ev.Next.StateReason,
			"at":     ev.At.UTC().Format(time.RFC3339Nano),
		})
	}

	poller := logpoller.New(time.Second, func(paneID string, modifiedAt time.Time) {
		runtime.Update(paneID, func(st *model.PaneRuntimeState) {
			if st.LastOutputAt == nil || modifiedAt.After(*st.LastOutputAt) {
				t := modifiedAt
				st.LastOutputAt = &t
			}
		})
	}, logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "logpoller"}))

	service := paneupdate.New(backend, processor, reg, tl, pipes, poller, sink, snapshots,
		cfg.PaneConcurrency, logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "paneupdate"}))

	tailer := jsonltail.New(pipes.EventLogPath(), processor.HandleHookLine,
		logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "jsonltail"}))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tailer.Start(ctx); err != nil {
		return err
	}
	defer tailer.Close()
	poller.Start(ctx)
	defer poller.Stop()

	loop := monitorloop.New(time.Duration(cfg.TickIntervalMs)*time.Millisecond, service.Tick,
		logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "monitorloop"}))
	go loop.Run(ctx)

	addr := net.JoinHostPort(cfg.LocalHost, fmt.Sprintf("%d", cfg.LocalPort))
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("vde-monitor serving", "addr", addr, "server_key", cfg.ServerKey)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
