package ui

import (
	"github.com/cortexlab/cortex/internal/app"
)

func BuildRuntimeDependencies(rt *app.Runtime, onQuit func()) Dependencies {
	dep := Dependencies{
		Actions: ActionDependencies{
			OnQuit: onQuit,
		},
	}

	if rt == nil {
		return dep
	}

	dep.Data = DataDependencies{
		Registry:          rt.Registry,
		Board:             rt.Board,
		Executor:          rt.Consumer,
		Bus:               rt.Events,
		CurrentConfig:     rt.CurrentConfig,
		CurrentConnStatus: rt.CurrentConnStatus,
	}
	dep.Actions.OnSet = rt.Set
	dep.Actions.OnSave = rt.SaveAndApplyConfig
	if rt.DB != nil {
		dep.Actions.OnClearJournal = rt.ClearJournal
	}

	return dep
}
