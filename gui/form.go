// Package gui is the desktop form around pipeline.Process: pick an input dataset and an
// output directory, press Process and follow the progress.
package gui

import (
	"context"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog/log"

	"github.com/yadda07/holesdetection/pipeline"
)

const Title = "Holes detection"

// Form is the single window of the desktop variant
type Form struct {
	window fyne.Window

	input    *widget.Entry
	output   *widget.Entry
	process  *widget.Button
	progress *widget.ProgressBar
	status   *widget.Label

	// finished is called on the UI goroutine after each run
	finished func(pipeline.Summary, error)
}

func NewForm(app fyne.App) *Form {
	f := &Form{window: app.NewWindow(Title)}

	f.input = widget.NewEntry()
	f.input.SetPlaceHolder("dataset.shp, .gpkg or .geojson")
	f.output = widget.NewEntry()
	f.output.SetPlaceHolder("output directory")

	f.process = widget.NewButton("Process", f.run)
	f.process.Importance = widget.HighImportance
	f.progress = widget.NewProgressBar()
	f.status = widget.NewLabel("Ready")

	form := widget.NewForm(
		widget.NewFormItem("Input", container.NewBorder(nil, nil, nil,
			widget.NewButton("Browse...", f.chooseInput), f.input)),
		widget.NewFormItem("Output", container.NewBorder(nil, nil, nil,
			widget.NewButton("Browse...", f.chooseOutput), f.output)),
	)
	f.window.SetContent(container.NewPadded(container.NewVBox(
		form,
		f.process,
		f.progress,
		f.status,
	)))
	f.window.Resize(fyne.NewSize(560, 0))
	return f
}

func (f *Form) ShowAndRun() {
	f.window.ShowAndRun()
}

func (f *Form) chooseInput() {
	d := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, f.window)
			return
		}
		if reader == nil {
			return
		}
		f.input.SetText(reader.URI().Path())
		if err := reader.Close(); err != nil {
			log.Debug().Err(err).Msg("closing picked input")
		}
	}, f.window)
	d.SetFilter(storage.NewExtensionFileFilter(pipeline.SupportedExtensions()))
	d.Show()
}

func (f *Form) chooseOutput() {
	dialog.ShowFolderOpen(func(dir fyne.ListableURI, err error) {
		if err != nil {
			dialog.ShowError(err, f.window)
			return
		}
		if dir == nil {
			return
		}
		f.output.SetText(dir.Path())
	}, f.window)
}

// selection returns the input dataset and the output path inside the chosen directory
func (f *Form) selection() (string, string, error) {
	input, dir := f.input.Text, f.output.Text
	if err := pipeline.ValidateSelection(input, dir); err != nil {
		return "", "", err
	}
	return input, pipeline.OutputPathInDir(input, dir), nil
}

func (f *Form) run() {
	input, output, err := f.selection()
	if err != nil {
		dialog.ShowError(err, f.window)
		return
	}

	f.process.Disable()
	f.progress.SetValue(0)
	f.status.SetText(fmt.Sprintf("Processing %s", input))

	opts := pipeline.DefaultOptions()
	opts.Progress = newProgress(func(layer string, value float64) {
		fyne.Do(func() {
			f.progress.SetValue(value)
			f.status.SetText(fmt.Sprintf("Processing %s", layer))
		})
	})

	go func() {
		summary, err := pipeline.Process(context.Background(), input, output, opts)
		fyne.Do(func() {
			f.done(output, summary, err)
		})
	}()
}

func (f *Form) done(output string, summary pipeline.Summary, err error) {
	f.process.Enable()
	f.progress.SetValue(0)
	if err != nil {
		f.status.SetText("Failed")
		log.Error().Err(err).Msg("processing failed")
		dialog.ShowError(err, f.window)
	} else {
		f.status.SetText(fmt.Sprintf("Written %s", output))
		dialog.ShowInformation("Done", summary.String(), f.window)
	}
	if f.finished != nil {
		f.finished(summary, err)
	}
}

// newProgress turns row counts into bar values, reporting only whole percent changes
// so a large layer does not flood the UI goroutine.
func newProgress(report func(layer string, value float64)) func(layer string, done, total int) {
	lastLayer, lastPercent := "", -1
	return func(layer string, done, total int) {
		if total <= 0 {
			return
		}
		percent := done * 100 / total
		if layer == lastLayer && percent == lastPercent {
			return
		}
		lastLayer, lastPercent = layer, percent
		report(layer, float64(done)/float64(total))
	}
}
