package main

import (
	"context"
	"errors"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"zenbreath/internal/core/breathkeeper"
	"zenbreath/internal/core/clock"
	"zenbreath/internal/core/model"
	"zenbreath/internal/cue"
	"zenbreath/internal/history"
	xglog "zenbreath/internal/log"
	"zenbreath/internal/metrics"
	"zenbreath/internal/platform"
	"zenbreath/internal/storage"
	"zenbreath/internal/ui/animation"
	"zenbreath/internal/ui/overlay"
	"zenbreath/internal/ui/preferences"
	"zenbreath/internal/ui/tray"
	"zenbreath/resources"
)

const (
	appName = "ZenBreath"
	appID   = "com.zenbreath.app"
)

func main() {
	xglog.Configure(xglog.Config{Service: "zenbreath"})
	logger := xglog.WithComponent("desktop")
	metrics.InstallViolationHook()

	guard, err := platform.AcquireSingleInstance(appName)
	if err != nil {
		if errors.Is(err, platform.ErrAlreadyRunning) {
			if activateErr := platform.ActivateRunning(appName); activateErr != nil {
				logger.Warn().Err(activateErr).Str("event", "instance.activate_failed").Msg("could not reach running instance")
			}
			return
		}
		logger.Error().Err(err).Str("event", "instance.acquire_failed").Msg("single instance")
		return
	}
	defer func() {
		_ = guard.Release()
	}()

	settings, err := storage.LoadSettings(appName)
	if err != nil {
		logger.Warn().Err(err).Str("event", "settings.load_failed").Msg("using default settings")
	}

	patternsPath, err := storage.PatternsPath(appName)
	if err != nil {
		logger.Warn().Err(err).Str("event", "patterns.path_failed").Msg("custom patterns disabled")
	}
	catalog, err := storage.NewCatalogHolder(patternsPath)
	if err != nil {
		logger.Warn().Err(err).Str("event", "patterns.load_failed").Msg("using built-in patterns")
		if catalog, err = storage.NewCatalogHolder(""); err != nil {
			logger.Error().Err(err).Str("event", "patterns.builtin_failed").Msg("built-in catalog is broken")
			return
		}
	}

	var store *history.Store
	if historyPath, pathErr := history.DefaultPath(appName); pathErr != nil {
		logger.Warn().Err(pathErr).Str("event", "history.path_failed").Msg("history disabled")
	} else if store, err = history.Open(historyPath, history.DefaultConfig()); err != nil {
		logger.Warn().Err(err).Str("event", "history.open_failed").Msg("history disabled")
		store = nil
	}
	if store != nil {
		defer func() {
			_ = store.Close()
		}()
	}

	fyneApp := app.NewWithID(appID)
	icon := fyne.NewStaticResource("zenbreath.svg", resources.MustLogo("zenbreath.svg"))
	fyneApp.SetIcon(icon)
	desktopApp, ok := fyneApp.(desktop.App)
	if !ok {
		logger.Error().Str("event", "tray.unsupported").Msg("system tray unsupported on this platform")
		return
	}

	trayWindow := fyneApp.NewWindow(appName)
	trayWindow.SetContent(widget.NewLabel("ZenBreath is running in the system tray."))
	trayWindow.SetCloseIntercept(func() {
		trayWindow.Hide()
	})
	trayWindow.Hide()
	desktopApp.SetSystemTrayWindow(trayWindow)

	dispatcher := cue.NewDispatcher(cue.DefaultQueueSize,
		cue.LogSink{Logger: xglog.WithComponent("cue")},
		finishNotifier(fyneApp),
	)
	dispatcher.SetSoundEnabled(settings.SoundEnabled)
	defer dispatcher.Close()

	options := breathkeeper.Options{Dispatcher: dispatcher}
	var reporter *history.Reporter
	if store != nil {
		reporter = history.NewReporter(store)
		options.Reporter = reporter
	}
	keeper := breathkeeper.New(options)
	defer keeper.Close()

	session := &controller{
		app:      fyneApp,
		logger:   logger,
		keeper:   keeper,
		source:   clock.System{},
		catalog:  catalog,
		settings: settings,
		window:   overlay.New(fyneApp, overlayConfig(settings), animation.New(animation.DefaultConfig())),
	}
	if reporter != nil {
		reporter.SetOnRecorded(session.recorded)
	}
	session.window.SetCallbacks(overlay.Callbacks{
		OnTogglePause: session.togglePause,
		OnFinish:      session.finish,
		OnStop:        session.stop,
	})

	prefsWindow := preferences.New(fyneApp, settings, func(updated model.Settings) {
		session.applySettings(updated)
		dispatcher.SetSoundEnabled(updated.SoundEnabled)
	})
	session.tray = tray.New(desktopApp, tray.Callbacks{
		OnStart:       session.start,
		OnTogglePause: session.togglePause,
		OnFinish:      session.finish,
		OnStop:        session.stop,
		OnPreferences: prefsWindow.Show,
		OnQuit: func() {
			session.shutdown()
			fyneApp.Quit()
		},
	})
	session.tray.SetPatterns(catalog.Get().Patterns(), settings.LastUsedPattern)
	desktopApp.SetSystemTrayIcon(icon)

	lifecycle := fyneApp.Lifecycle()
	lifecycle.SetOnExitedForeground(session.hidden)
	lifecycle.SetOnEnteredForeground(session.visible)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go session.watchEvents(keeper.Subscribe(16))

	catalogUpdates := make(chan model.Catalog, 1)
	catalog.RegisterListener(catalogUpdates)
	if err := catalog.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Str("event", "patterns.watcher_start_failed").Msg("custom patterns will not hot reload")
	}
	defer catalog.Stop()
	go session.watchCatalog(ctx, catalogUpdates)

	guard.Serve(func() {
		fyne.Do(session.activate)
	})

	if err := platform.SyncAutostart(platform.NewService(), appName, settings.LaunchAtLogin); err != nil {
		logger.Warn().Err(err).Str("event", "autostart.sync_failed").Msg("autostart")
	}

	fyneApp.Run()
	session.shutdown()
}

func finishNotifier(fyneApp fyne.App) cue.Sink {
	return cue.SinkFunc{
		SinkName: "notification",
		Fn: func(c cue.Cue) error {
			if c.Type != cue.TypeFinish || c.Fact == nil {
				return nil
			}
			fyneApp.SendNotification(fyne.NewNotification("Session complete", overlay.Summary(*c.Fact, 0)))
			return nil
		},
	}
}

func overlayConfig(settings model.Settings) overlay.Config {
	return overlay.Config{
		Opacity:      opacityToAlpha(settings.WindowOpacity),
		ShowTimer:    settings.ShowTimer,
		ReduceMotion: settings.ReduceMotion,
		Language:     settings.Language,
	}
}

func opacityToAlpha(opacity float64) uint8 {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	return uint8(opacity * 255)
}
