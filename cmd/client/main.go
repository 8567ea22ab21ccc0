package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"tftp/internal/clientudp"
	"tftp/internal/config"
	"tftp/internal/logger"
	"tftp/internal/logging"
	"tftp/internal/metrics"
	"tftp/internal/protocol"
	"tftp/internal/transport"
	"tftp/internal/ui"
)

// Interface gráfica do cliente TFTP: coleta servidor, arquivos e modo,
// executa put/get e exibe progresso, taxa recente e logs.
func main() {
	// Força driver de renderização por software no Windows se não estiver definido
	if runtime.GOOS == "windows" && strings.TrimSpace(os.Getenv("FYNE_DRIVER")) == "" {
		_ = os.Setenv("FYNE_DRIVER", "software")
	}

	settings, err := config.LoadClientSettings("")
	if err != nil {
		logger.Warn("configurações ignoradas: %v", err)
		settings = config.DefaultClientSettings()
	}

	a := app.New()
	a.Settings().SetTheme(ui.NewTransferTheme())
	w := a.NewWindow("TFTP Client")

	hostEntry := ui.NewFormattedEntry(ui.FormatHost)
	hostEntry.SetText(settings.Host)
	portEntry := ui.NewFormattedEntry(ui.FormatPort)
	portEntry.SetText(settings.Port)
	remoteEntry := widget.NewEntry()
	remoteEntry.SetText(settings.LastRemote)
	remoteEntry.SetPlaceHolder("nome no servidor (vazio = nome do arquivo local)")
	localEntry := widget.NewEntry()
	localEntry.SetText(settings.LastLocal)
	localEntry.SetPlaceHolder("arquivo local")
	chooseBtn := widget.NewButtonWithIcon("", theme.FolderOpenIcon(), func() {
		dialog.ShowFileOpen(func(r fyne.URIReadCloser, err error) {
			if err != nil || r == nil {
				return
			}
			localEntry.SetText(r.URI().Path())
			r.Close()
		}, w)
	})
	modeSelect := widget.NewSelect([]string{config.ModeNetASCII, config.ModeOctet, config.ModeMail}, nil)
	if m, err := config.NormalizeMode(settings.Mode); err == nil {
		modeSelect.SetSelected(m)
	} else {
		modeSelect.SetSelected(config.DefaultMode)
	}
	rexmtEntry := widget.NewEntry()
	rexmtEntry.SetText(settings.RetryStep)
	timeoutEntry := widget.NewEntry()
	timeoutEntry.SetText(settings.Timeout)
	traceCheck := widget.NewCheck("Trace de pacotes", nil)
	traceCheck.SetChecked(settings.Trace)
	verboseCheck := widget.NewCheck("Verbose", nil)
	verboseCheck.SetChecked(settings.Verbose)

	validation := ui.NewValidationIndicator()
	progress := ui.NewProgressIndicator()
	status := ui.NewStatusBar()
	logView := logging.NewLogView()

	// o logger da interface escreve em stderr e espelha no visor
	viewHook := logging.NewViewHook(logView)
	viewHook.Debug = settings.Trace
	guiLog := logger.NewLogger(logger.DEBUG, os.Stderr, "gui")
	guiLog.AddHook(viewHook)
	traceCheck.OnChanged = func(on bool) { viewHook.Debug = on }

	sock, err := transport.Open("udp4", transport.Options{TTL: settings.TTL})
	if err != nil {
		dialog.ShowError(err, w)
	}

	// estado compartilhado com a goroutine da transferência
	var progBytes, progBlocks atomic.Uint64
	var totalBytes uint64 // 0 em downloads: tamanho desconhecido
	var history []metrics.SpeedPoint
	var lastUIBytes uint64
	lastUITick := time.Now()
	running := false

	spark := canvas.NewRaster(func(w, h int) image.Image { return ui.DrawSpark(history, w, h) })
	spark.SetMinSize(fyne.NewSize(400, 60))

	var putBtn, getBtn *widget.Button
	setRunning := func(on bool) {
		running = on
		if on {
			putBtn.Disable()
			getBtn.Disable()
		} else {
			putBtn.Enable()
			getBtn.Enable()
		}
	}

	start := func(put bool) {
		if running || sock == nil {
			return
		}
		local := strings.TrimSpace(localEntry.Text)
		remote := strings.TrimSpace(remoteEntry.Text)
		if remote == "" && local != "" {
			remote = filepath.Base(local)
			remoteEntry.SetText(remote)
		}
		if local == "" && remote != "" && !put {
			local = filepath.Base(remote)
			localEntry.SetText(local)
		}
		errs := config.ValidateAll(config.ValidationParams{
			Host:     hostEntry.Text,
			Port:     portEntry.Text,
			FilePath: remote,
			Mode:     modeSelect.Selected,
			Rexmt:    rexmtEntry.Text,
			Timeout:  timeoutEntry.Text,
		})
		validation.SetErrors(errs)
		if len(errs) > 0 {
			return
		}

		settings.RetryStep = rexmtEntry.Text
		settings.Timeout = timeoutEntry.Text
		settings.Trace = traceCheck.Checked
		settings.Verbose = verboseCheck.Checked
		cfg, err := settings.Transfer()
		if err != nil {
			validation.SetErrors([]error{err})
			return
		}
		port, _ := strconv.Atoi(portEntry.Text)
		host, port, err := protocol.ParseTarget(hostEntry.Text, port)
		if err != nil {
			validation.SetErrors([]error{err})
			return
		}

		var f *os.File
		totalBytes = 0
		if put {
			f, err = os.Open(local)
			if err == nil {
				if st, serr := f.Stat(); serr == nil {
					totalBytes = uint64(st.Size())
				}
			}
		} else {
			f, err = os.Create(local)
		}
		if err != nil {
			dialog.ShowError(err, w)
			return
		}

		cb := clientudp.Callbacks{
			OnProgress: func(b, blocks uint64) {
				progBytes.Store(b)
				progBlocks.Store(blocks)
			},
			OnLog: func(s string) {
				fyne.Do(func() { logView.Append(logging.LevelFor(s), s) })
			},
		}
		c, err := clientudp.NewClient(sock, cfg, guiLog, cb)
		if err == nil {
			err = c.Connect(host, port)
		}
		if err != nil {
			f.Close()
			dialog.ShowError(err, w)
			return
		}

		progBytes.Store(0)
		progBlocks.Store(0)
		lastUIBytes = 0
		history = nil
		setRunning(true)
		mode := modeSelect.Selected
		if put {
			status.SetStatus("Enviando " + remote)
		} else {
			status.SetStatus("Recebendo " + remote)
		}
		status.SetInfo(c.Server().String())
		progress.SetStatus(fmt.Sprintf("%s [%s]", remote, mode))

		go func() {
			var err error
			if put {
				_, err = c.Upload(f, remote, mode)
			} else {
				_, err = c.Download(f, remote, mode)
			}
			fyne.Do(func() {
				setRunning(false)
				progress.Finish(err == nil)
				if err != nil {
					status.SetStatus("Falhou")
					progress.SetStatus(err.Error())
					return
				}
				status.SetStatus("Concluído")
				progress.SetStatus(fmt.Sprintf("%s: %s", remote, ui.FormatBytes(progBytes.Load())))
			})
		}()
	}

	putBtn = widget.NewButtonWithIcon("Enviar (put)", theme.UploadIcon(), func() { start(true) })
	getBtn = widget.NewButtonWithIcon("Receber (get)", theme.DownloadIcon(), func() { start(false) })

	form := widget.NewForm(
		&widget.FormItem{Text: "Host", Widget: hostEntry},
		&widget.FormItem{Text: "Porta", Widget: portEntry},
		&widget.FormItem{Text: "Remoto", Widget: remoteEntry},
		&widget.FormItem{Text: "Local", Widget: container.NewBorder(nil, nil, nil, chooseBtn, localEntry)},
		&widget.FormItem{Text: "Modo", Widget: modeSelect},
		&widget.FormItem{Text: "Rexmt", Widget: rexmtEntry},
		&widget.FormItem{Text: "Timeout", Widget: timeoutEntry},
	)

	buttons := container.NewHBox(putBtn, getBtn, traceCheck, verboseCheck, validation)
	top := container.NewVBox(form, buttons, progress, spark)
	logSection := container.NewBorder(widget.NewLabel("Logs:"), nil, nil, nil, logView.CanvasObject())
	w.SetContent(container.NewBorder(top, status, nil, nil, logSection))

	// Ticker de UI: atualiza a cada ~200ms
	go func() {
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		for range t.C {
			fyne.Do(func() {
				if !running {
					return
				}
				now := time.Now()
				dt := now.Sub(lastUITick).Seconds()
				if dt <= 0 {
					dt = 1e-6
				}
				b := progBytes.Load()
				rate := float64(b-lastUIBytes) / dt
				lastUIBytes = b
				lastUITick = now
				history = append(history, metrics.SpeedPoint{Timestamp: now, Speed: rate})
				if len(history) > 200 {
					history = history[len(history)-200:]
				}
				progress.SetProgress(b, totalBytes, rate)
				status.SetInfo(fmt.Sprintf("%s | blocos: %d", ui.FormatBytes(b), progBlocks.Load()))
				spark.Refresh()
			})
		}
	}()
	w.Resize(fyne.NewSize(float32(settings.WindowWidth), float32(settings.WindowHeight)))

	// Salva configurações quando a janela for fechada
	w.SetCloseIntercept(func() {
		settings.Host = hostEntry.Text
		settings.Port = portEntry.Text
		settings.Mode = modeSelect.Selected
		settings.RetryStep = rexmtEntry.Text
		settings.Timeout = timeoutEntry.Text
		settings.Trace = traceCheck.Checked
		settings.Verbose = verboseCheck.Checked
		settings.LastRemote = remoteEntry.Text
		settings.LastLocal = localEntry.Text
		size := w.Content().Size()
		settings.WindowWidth = int(size.Width)
		settings.WindowHeight = int(size.Height)

		if err := config.SaveClientSettings("", settings); err != nil {
			logger.Error("salvando configurações: %v", err)
		}
		if sock != nil {
			sock.Close()
		}
		w.Close()
	})

	w.ShowAndRun()
}
