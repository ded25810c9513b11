package main

import (
	"context"
	"fmt"
	"sync"

	"fyne.io/fyne/v2"
	"github.com/rs/zerolog"

	"zenbreath/internal/core/breathkeeper"
	"zenbreath/internal/core/clock"
	"zenbreath/internal/core/model"
	"zenbreath/internal/history"
	"zenbreath/internal/platform"
	"zenbreath/internal/storage"
	"zenbreath/internal/ui/overlay"
	"zenbreath/internal/ui/tray"
)

// controller glues the keeper, its frame loop and the fyne front-end.
// Methods without a lock run on the fyne goroutine.
type controller struct {
	app     fyne.App
	logger  zerolog.Logger
	keeper  *breathkeeper.BreathKeeper
	source  clock.Source
	catalog *storage.CatalogHolder
	window  *overlay.Window
	tray    *tray.Manager

	mu       sync.Mutex
	loop     *breathkeeper.Loop
	settings model.Settings
	result   history.Result
}

func (c *controller) start(patternID string) {
	pattern, ok := c.catalog.Get().Get(patternID)
	if !ok {
		c.logger.Warn().Str("event", "session.unknown_pattern").Str("pattern", patternID).Msg("pattern not in catalog")
		return
	}
	now := c.source.Now()
	if err := c.keeper.Start(pattern, now); err != nil {
		c.logger.Warn().Err(err).Str("event", "session.start_rejected").Msg("session not started")
		return
	}

	c.mu.Lock()
	c.settings.LastUsedPattern = pattern.ID
	settings := c.settings
	c.result = history.Result{}
	loop := breathkeeper.NewLoop(c.keeper, c.source, settings.LoopConfig(), c.render)
	c.loop = loop
	c.mu.Unlock()

	c.window.Show(pattern, now)
	c.tray.SetPatterns(c.catalog.Get().Patterns(), pattern.ID)
	c.tray.SetStatus(pattern.Label)
	c.tray.SetSession(true, false)
	loop.Start(context.Background())
	c.saveSettings(settings)
}

func (c *controller) togglePause() {
	now := c.source.Now()
	var err error
	paused := c.keeper.State() != breathkeeper.StatePaused
	if paused {
		err = c.keeper.Pause(now)
	} else {
		err = c.keeper.Resume(now)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("event", "session.toggle_ignored").Msg("no session to pause")
		return
	}
	c.window.SetPaused(paused)
	c.tray.SetSession(true, paused)
}

func (c *controller) finish() {
	c.stopLoop()
	fact, err := c.keeper.Finish(c.source.Now())
	if err != nil {
		return
	}
	c.idle()

	c.mu.Lock()
	streak := c.result.Streak
	c.mu.Unlock()
	c.window.ShowSummary(fact, streak, c.window.Hide)
}

func (c *controller) stop() {
	c.stopLoop()
	c.keeper.Stop(c.source.Now())
	c.idle()
	c.window.Hide()
}

// shutdown commits a running session before the app exits.
func (c *controller) shutdown() {
	c.stopLoop()
	if c.keeper.State() != breathkeeper.StateIdle {
		_, _ = c.keeper.Finish(c.source.Now())
	}
}

func (c *controller) idle() {
	c.tray.SetSession(false, false)
	c.tray.SetStatus("ready")
}

func (c *controller) stopLoop() {
	c.mu.Lock()
	loop := c.loop
	c.loop = nil
	c.mu.Unlock()
	if loop != nil {
		loop.Stop()
	}
}

func (c *controller) currentLoop() *breathkeeper.Loop {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop
}

// render runs on the loop goroutine and hands the frame to fyne.
func (c *controller) render(frame breathkeeper.Frame) {
	now := c.source.Now()
	fyne.Do(func() {
		c.window.Render(frame, now)
	})
}

func (c *controller) hidden() {
	if loop := c.currentLoop(); loop != nil {
		loop.Hidden(c.source.Now())
	}
}

func (c *controller) visible() {
	if loop := c.currentLoop(); loop != nil {
		loop.Visible(c.source.Now())
	}
}

// recorded is called by the history reporter inside Finish.
func (c *controller) recorded(_ model.SessionFact, result history.Result) {
	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
}

func (c *controller) activate() {
	if c.keeper.State() != breathkeeper.StateIdle {
		c.window.Window().Show()
		c.window.Window().RequestFocus()
		return
	}
	c.mu.Lock()
	last := c.settings.LastUsedPattern
	c.mu.Unlock()
	c.start(last)
}

func (c *controller) applySettings(updated model.Settings) {
	c.mu.Lock()
	previous := c.settings
	updated.LastUsedPattern = previous.LastUsedPattern
	c.settings = updated
	c.mu.Unlock()

	c.window.UpdateConfig(overlayConfig(updated))
	c.saveSettings(updated)
	if updated.LaunchAtLogin != previous.LaunchAtLogin {
		if err := platform.SyncAutostart(platform.NewService(), appName, updated.LaunchAtLogin); err != nil {
			c.logger.Warn().Err(err).Str("event", "autostart.sync_failed").Msg("autostart")
		}
	}
}

func (c *controller) saveSettings(settings model.Settings) {
	if err := storage.SaveSettings(appName, settings); err != nil {
		c.logger.Warn().Err(err).Str("event", "settings.save_failed").Msg("settings not saved")
	}
}

func (c *controller) watchEvents(events <-chan breathkeeper.Event) {
	for event := range events {
		switch event.Type {
		case breathkeeper.EventTargetReached:
			c.logger.Info().Str("event", "session.target_reached").Int("cycle", event.Cycle).Msg("recommended cycles done")
			status := targetStatus(event)
			fyne.Do(func() {
				c.tray.SetStatus(status)
			})
		case breathkeeper.EventStateChange:
			if event.State == breathkeeper.StateInterrupted {
				fyne.Do(func() {
					c.tray.SetStatus("interrupted")
				})
			}
		case breathkeeper.EventSoftRecovered:
			patternID := event.PatternID
			fyne.Do(func() {
				c.tray.SetStatus(patternID)
			})
		}
	}
}

func (c *controller) watchCatalog(ctx context.Context, updates <-chan model.Catalog) {
	for {
		select {
		case <-ctx.Done():
			return
		case catalog := <-updates:
			c.mu.Lock()
			selected := c.settings.LastUsedPattern
			c.mu.Unlock()
			fyne.Do(func() {
				c.tray.SetPatterns(catalog.Patterns(), selected)
			})
		}
	}
}

// targetStatus is shown once the recommended cycles are done; the session
// keeps running until the user finishes it.
func targetStatus(event breathkeeper.Event) string {
	return fmt.Sprintf("%s: %d cycles done", event.PatternID, event.Cycle)
}
