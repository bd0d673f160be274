package ui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"
)

type sidebarPage struct {
	name    string
	content fyne.CanvasObject
	// onShow runs each time the page becomes active, not on first display.
	onShow func()
}

// sidebar is a vertical button list switching pages in a stack.
type sidebar struct {
	nav     *fyne.Container
	stack   *fyne.Container
	pages   []sidebarPage
	buttons []*widget.Button
	active  int
}

func newSidebar(pages ...sidebarPage) *sidebar {
	s := &sidebar{
		nav:    container.NewVBox(),
		stack:  container.NewStack(),
		active: -1,
	}
	for _, page := range pages {
		if page.content == nil {
			continue
		}
		idx := len(s.pages)
		s.pages = append(s.pages, page)
		page.content.Hide()
		s.stack.Add(page.content)
		button := widget.NewButton(page.name, func() { s.activate(idx, true) })
		s.buttons = append(s.buttons, button)
		s.nav.Add(button)
	}
	s.nav.Add(layout.NewSpacer())
	if len(s.pages) > 0 {
		s.activate(0, false)
	}

	return s
}

// Show switches to the named page and reports whether it exists.
func (s *sidebar) Show(name string) bool {
	for i, page := range s.pages {
		if page.name == name {
			s.activate(i, true)
			return true
		}
	}

	return false
}

func (s *sidebar) Active() string {
	if s.active < 0 {
		return ""
	}

	return s.pages[s.active].name
}

func (s *sidebar) activate(idx int, runHook bool) {
	if idx == s.active {
		return
	}
	if s.active >= 0 {
		s.pages[s.active].content.Hide()
		appLogger.Debug("switching sidebar tab", "from", s.pages[s.active].name, "to", s.pages[idx].name)
	}
	s.active = idx
	s.pages[idx].content.Show()
	if hook := s.pages[idx].onShow; runHook && hook != nil {
		hook()
	}
	for i, button := range s.buttons {
		if i == idx {
			button.Importance = widget.HighImportance
		} else {
			button.Importance = widget.LowImportance
		}
		button.Refresh()
	}
	s.stack.Refresh()
}
