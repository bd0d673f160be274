package ui

import (
	"sync"

	"fyne.io/fyne/v2"
)

// uiRuntime owns the main window lifetime. Cleanups registered at construction
// run exactly once, newest first, followed by onQuit.
type uiRuntime struct {
	fyApp    fyne.App
	window   fyne.Window
	cleanups []func()
	onQuit   func()
	once     sync.Once
}

func newUIRuntime(fyApp fyne.App, window fyne.Window, onQuit func(), cleanups ...func()) *uiRuntime {
	return &uiRuntime{fyApp: fyApp, window: window, cleanups: cleanups, onQuit: onQuit}
}

// BindCloseIntercept makes closing the main window quit the application.
func (r *uiRuntime) BindCloseIntercept() {
	if r.window == nil {
		return
	}
	r.window.SetCloseIntercept(func() {
		appLogger.Debug("main window closed")
		r.Quit()
	})
}

func (r *uiRuntime) Quit() {
	r.shutdown(true)
}

// Run blocks in the Fyne event loop and cleans up when it returns.
func (r *uiRuntime) Run() {
	if r.window != nil {
		r.window.Show()
	}
	if r.fyApp != nil {
		r.fyApp.Run()
	}
	appLogger.Info("UI event loop returned")
	r.shutdown(false)
}

func (r *uiRuntime) shutdown(quitApp bool) {
	r.once.Do(func() {
		appLogger.Info("shutting down UI", "quit_app", quitApp)
		for i := len(r.cleanups) - 1; i >= 0; i-- {
			if cleanup := r.cleanups[i]; cleanup != nil {
				cleanup()
			}
		}
		if r.onQuit != nil {
			r.onQuit()
		}
		if quitApp && r.fyApp != nil {
			r.fyApp.Quit()
		}
	})
}
