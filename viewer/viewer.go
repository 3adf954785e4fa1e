// Package viewer is an interactive terminal inspector for compiled units.
// It shows the functions of a program side by side with their IR listing
// and the data section, which is a faster way to study the compiler's
// output than reading the ir target's dump in a pager.
package viewer

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/bext-lang/b/codegen"
	"github.com/bext-lang/b/ir"
)

// Viewer represents the terminal UI for inspecting a compiled program
type Viewer struct {
	App     *tview.Application
	Layout  *tview.Flex
	program *ir.Program

	FunctionList *tview.List
	IRView       *tview.TextView
	DataView     *tview.TextView
	StatusBar    *tview.TextView
}

// New creates a viewer over a compiled program
func New(program *ir.Program) *Viewer {
	v := &Viewer{
		App:     tview.NewApplication(),
		program: program,
	}

	v.initializeViews()
	v.buildLayout()
	v.setupKeyBindings()

	if len(program.Funcs) > 0 {
		v.showFunction(0)
	}

	return v
}

// initializeViews creates all the view panels
func (v *Viewer) initializeViews() {
	v.FunctionList = tview.NewList().ShowSecondaryText(true)
	v.FunctionList.SetBorder(true).SetTitle(" Functions ")
	for i, f := range v.program.Funcs {
		index := i
		v.FunctionList.AddItem(
			f.Name,
			fmt.Sprintf("%d params, %d autovars, %d ops", f.ParamsCount, f.AutoVarsCount, len(f.Body)),
			0,
			func() { v.showFunction(index) },
		)
	}
	v.FunctionList.SetChangedFunc(func(index int, _, _ string, _ rune) {
		v.showFunction(index)
	})

	v.IRView = tview.NewTextView().
		SetScrollable(true).
		SetWrap(false)
	v.IRView.SetBorder(true).SetTitle(" IR ")

	v.DataView = tview.NewTextView().
		SetScrollable(true).
		SetWrap(false)
	v.DataView.SetBorder(true).SetTitle(" Data ")
	if len(v.program.Data) > 0 {
		v.DataView.SetText(codegen.DumpData(v.program.Data))
	} else {
		v.DataView.SetText("(no data section)")
	}

	v.StatusBar = tview.NewTextView()
	v.StatusBar.SetText(fmt.Sprintf(
		" %d functions, %d globals, %d externs, %d data bytes | Tab: switch panel, q: quit",
		len(v.program.Funcs), len(v.program.Globals), len(v.program.Extrns), len(v.program.Data),
	))
}

// buildLayout constructs the viewer layout
func (v *Viewer) buildLayout() {
	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(v.IRView, 0, 3, false).
		AddItem(v.DataView, 0, 1, false)

	main := tview.NewFlex().
		AddItem(v.FunctionList, 0, 1, true).
		AddItem(right, 0, 3, false)

	v.Layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(main, 0, 1, true).
		AddItem(v.StatusBar, 1, 0, false)
}

// setupKeyBindings installs the global key handlers
func (v *Viewer) setupKeyBindings() {
	panels := []tview.Primitive{v.FunctionList, v.IRView, v.DataView}
	current := 0

	v.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape,
			event.Rune() == 'q':
			v.App.Stop()
			return nil
		case event.Key() == tcell.KeyTab:
			current = (current + 1) % len(panels)
			v.App.SetFocus(panels[current])
			return nil
		}
		return event
	})
}

// showFunction fills the IR panel with the listing of function index
func (v *Viewer) showFunction(index int) {
	if index < 0 || index >= len(v.program.Funcs) {
		return
	}
	v.IRView.SetText(codegen.DumpFunc(&v.program.Funcs[index]))
	v.IRView.ScrollToBeginning()
}

// Run starts the viewer and blocks until the user quits
func (v *Viewer) Run() error {
	return v.App.SetRoot(v.Layout, true).Run()
}
