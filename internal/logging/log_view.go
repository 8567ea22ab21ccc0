// Package logging exibe na interface gráfica as mensagens do cliente e do
// logger do processo.
package logging

import (
	"fmt"
	"image/color"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"github.com/sirupsen/logrus"
)

// Níveis de severidade para logs
type LogLevel int

const (
	LogInfo LogLevel = iota
	LogWarning
	LogError
	LogSuccess
)

// LevelFor deduz o nível de uma mensagem do cliente pelo prefixo/conteúdo.
func LevelFor(msg string) LogLevel {
	up := strings.ToUpper(msg)
	switch {
	case strings.HasPrefix(up, "ERRO") || strings.HasPrefix(up, "ERROR"):
		return LogError
	case strings.HasPrefix(up, "WARN") || strings.HasPrefix(up, "AVISO"):
		return LogWarning
	case strings.HasPrefix(up, "SENT ") || strings.HasPrefix(up, "RECEIVED "):
		return LogSuccess
	default:
		return LogInfo
	}
}

// FromLogrus converte o nível de uma entrada do logrus.
func FromLogrus(level logrus.Level) LogLevel {
	switch {
	case level <= logrus.ErrorLevel:
		return LogError
	case level == logrus.WarnLevel:
		return LogWarning
	default:
		return LogInfo
	}
}

// LogEntry representa uma linha de log formatada.
type LogEntry struct {
	Level LogLevel
	Text  string
	Time  time.Time
}

// LogView é um visor de logs rolável com cores por nível.
type LogView struct {
	box      *fyne.Container
	scroll   *container.Scroll
	entries  []LogEntry
	maxLines int
}

// NewLogView cria um visor de log responsivo e rolável.
func NewLogView() *LogView {
	box := container.NewVBox()
	scroll := container.NewVScroll(box)
	scroll.SetMinSize(fyne.NewSize(600, 260))
	return &LogView{box: box, scroll: scroll, maxLines: 1000}
}

// CanvasObject retorna o widget para inserir no layout.
func (lv *LogView) CanvasObject() fyne.CanvasObject { return lv.scroll }

// Clear remove todas as linhas.
func (lv *LogView) Clear() {
	lv.entries = nil
	lv.box.Objects = nil
	lv.box.Refresh()
}

// Entries retorna as linhas atualmente no visor.
func (lv *LogView) Entries() []LogEntry { return lv.entries }

// Append adiciona uma nova linha, mantendo limite e fazendo scroll.
// Deve rodar na thread de UI.
func (lv *LogView) Append(level LogLevel, msg string) {
	e := LogEntry{Level: level, Text: msg, Time: time.Now()}
	lv.entries = append(lv.entries, e)
	if len(lv.entries) > lv.maxLines {
		// remove metade antiga para evitar custo de shift frequente
		lv.entries = lv.entries[len(lv.entries)-lv.maxLines/2:]
		lv.box.Objects = nil
		for _, ent := range lv.entries {
			lv.box.Add(renderEntry(ent))
		}
	} else {
		lv.box.Add(renderEntry(e))
	}
	lv.box.Refresh()
	lv.scroll.ScrollToBottom()
}

// Paleta para fundo escuro: INFO branco, WARN amarelo, ERROR vermelho, SUCCESS verde.
func colorFor(level LogLevel) color.Color {
	switch level {
	case LogError:
		return color.RGBA{0xFF, 0x55, 0x55, 0xFF}
	case LogWarning:
		return color.RGBA{0xFF, 0xD7, 0x64, 0xFF}
	case LogSuccess:
		return color.RGBA{0x6A, 0xE3, 0x7A, 0xFF}
	default:
		return color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	}
}

func labelFor(level LogLevel) string {
	switch level {
	case LogError:
		return "ERROR"
	case LogWarning:
		return "WARN"
	case LogSuccess:
		return "SUCCESS"
	default:
		return "INFO"
	}
}

func renderEntry(e LogEntry) fyne.CanvasObject {
	c := canvas.NewText(fmt.Sprintf("[%s] %s: %s", e.Time.Format("15:04:05"), labelFor(e.Level), e.Text), colorFor(e.Level))
	c.Alignment = fyne.TextAlignLeading
	c.TextStyle.Monospace = true
	c.TextSize = 12
	return c
}

// ViewHook é um hook do logrus que espelha as entradas no visor.
// Entradas de debug (trace de pacotes) só passam com Debug ativo.
type ViewHook struct {
	view  *LogView
	Debug bool
}

// NewViewHook cria o hook para o visor dado.
func NewViewHook(view *LogView) *ViewHook { return &ViewHook{view: view} }

// Levels implementa logrus.Hook.
func (h *ViewHook) Levels() []logrus.Level { return logrus.AllLevels }

// Fire implementa logrus.Hook; a linha é adicionada na thread de UI.
func (h *ViewHook) Fire(entry *logrus.Entry) error {
	if entry.Level >= logrus.DebugLevel && !h.Debug {
		return nil
	}
	text := entry.Message
	if id, ok := entry.Data["transfer"].(string); ok && len(id) >= 8 {
		text = id[:8] + " " + text
	}
	level := FromLogrus(entry.Level)
	fyne.Do(func() { h.view.Append(level, text) })
	return nil
}
