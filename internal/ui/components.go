package ui

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"tftp/internal/metrics"
)

// representa uma barra de status com informações
type StatusBar struct {
	widget.BaseWidget
	statusLabel *widget.Label
	infoLabel   *widget.Label
}

// cria uma nova barra de status
func NewStatusBar() *StatusBar {
	sb := &StatusBar{
		statusLabel: widget.NewLabel("Pronto"),
		infoLabel:   widget.NewLabel(""),
	}
	sb.ExtendBaseWidget(sb)
	return sb
}

// implementa o widget.CustomWidget
func (sb *StatusBar) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(container.NewHBox(
		sb.statusLabel,
		widget.NewSeparator(),
		sb.infoLabel,
	))
}

// define o status atual
func (sb *StatusBar) SetStatus(status string) {
	sb.statusLabel.SetText(status)
}

// define informações adicionais, ex: o servidor atual
func (sb *StatusBar) SetInfo(info string) {
	sb.infoLabel.SetText(info)
}

// representa um campo de entrada que se reformata enquanto o usuário digita
type FormattedEntry struct {
	widget.Entry
	formatter func(string) string
}

// cria um novo campo de entrada formatado
func NewFormattedEntry(formatter func(string) string) *FormattedEntry {
	fe := &FormattedEntry{formatter: formatter}
	fe.ExtendBaseWidget(fe)
	fe.OnChanged = fe.onTextChanged
	return fe
}

func (fe *FormattedEntry) onTextChanged(text string) {
	if fe.formatter == nil {
		return
	}
	if formatted := fe.formatter(text); formatted != text {
		fe.SetText(formatted)
		fe.CursorColumn = len(formatted)
	}
}

// indica se o formulário está pronto para uma transferência
type ValidationIndicator struct {
	widget.BaseWidget
	icon  *widget.Label
	label *widget.Label
	valid bool
}

// cria um novo indicador de validação
func NewValidationIndicator() *ValidationIndicator {
	vi := &ValidationIndicator{
		icon:  widget.NewLabel(""),
		label: widget.NewLabel(""),
	}
	vi.ExtendBaseWidget(vi)
	vi.SetErrors(nil)
	return vi
}

// implementa o widget.CustomWidget
func (vi *ValidationIndicator) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(container.NewHBox(vi.icon, vi.label))
}

// mostra o primeiro erro de validação, ou ok se não houver
func (vi *ValidationIndicator) SetErrors(errs []error) {
	vi.valid = len(errs) == 0
	if vi.valid {
		vi.icon.SetText("✓")
		vi.icon.Importance = widget.SuccessImportance
		vi.label.SetText("")
		return
	}
	vi.icon.SetText("✗")
	vi.icon.Importance = widget.DangerImportance
	msg := errs[0].Error()
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (+%d)", msg, len(errs)-1)
	}
	vi.label.SetText(msg)
}

// retorna se o formulário é válido
func (vi *ValidationIndicator) IsValid() bool {
	return vi.valid
}

// representa um indicador de progresso com velocidade e tempo restante
type ProgressIndicator struct {
	widget.BaseWidget
	progressBar *widget.ProgressBar
	activity    *widget.ProgressBarInfinite
	statusLabel *widget.Label
	speedLabel  *widget.Label
	etaLabel    *widget.Label
}

// cria um novo indicador de progresso
func NewProgressIndicator() *ProgressIndicator {
	pi := &ProgressIndicator{
		progressBar: widget.NewProgressBar(),
		activity:    widget.NewProgressBarInfinite(),
		statusLabel: widget.NewLabel("Aguardando..."),
		speedLabel:  widget.NewLabel("0 B/s"),
		etaLabel:    widget.NewLabel("--:--"),
	}
	pi.activity.Stop()
	pi.activity.Hide()
	pi.ExtendBaseWidget(pi)
	return pi
}

// implementa o widget.CustomWidget
func (pi *ProgressIndicator) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(container.NewVBox(
		pi.statusLabel,
		container.NewStack(pi.progressBar, pi.activity),
		container.NewHBox(
			pi.speedLabel,
			widget.NewSeparator(),
			pi.etaLabel,
		),
	))
}

// atualiza o progresso; total 0 significa tamanho desconhecido (downloads)
func (pi *ProgressIndicator) SetProgress(done, total uint64, speed float64) {
	if total == 0 {
		pi.progressBar.Hide()
		pi.activity.Show()
		if !pi.activity.Running() {
			pi.activity.Start()
		}
	} else {
		pi.activity.Stop()
		pi.activity.Hide()
		pi.progressBar.Show()
		pi.progressBar.SetValue(float64(done) / float64(total))
	}

	if speed <= 0 {
		pi.speedLabel.SetText("0 B/s")
		pi.etaLabel.SetText("--:--")
		return
	}
	pi.speedLabel.SetText(formatBytes(speed) + "/s")
	if total > done {
		pi.etaLabel.SetText(formatDuration(float64(total-done) / speed))
	} else {
		pi.etaLabel.SetText("--:--")
	}
}

// encerra o indicador ao fim da transferência
func (pi *ProgressIndicator) Finish(ok bool) {
	pi.activity.Stop()
	pi.activity.Hide()
	pi.progressBar.Show()
	if ok {
		pi.progressBar.SetValue(1)
	}
	pi.etaLabel.SetText("--:--")
}

// define o status
func (pi *ProgressIndicator) SetStatus(status string) {
	pi.statusLabel.SetText(status)
}

// Gera imagem com barras verticais das velocidades recentes, normalizadas
// pela maior observada.
func DrawSpark(points []metrics.SpeedPoint, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bg := color.RGBA{0x1E, 0x1F, 0x24, 0xFF}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, bg)
		}
	}
	if len(points) == 0 || w <= 0 || h <= 0 {
		return img
	}
	max := 0.0
	for _, p := range points {
		if p.Speed > max {
			max = p.Speed
		}
	}
	if max <= 0 {
		return img
	}
	bar := color.RGBA{0x3D, 0x8B, 0xFD, 0xFF}
	n := len(points)
	for i := 0; i < w; i++ {
		idx := i * n / w
		bh := int((points[idx].Speed / max) * float64(h))
		for y := h - 1; y >= h-bh && y >= 0; y-- {
			img.Set(i, y, bar)
		}
	}
	return img
}

// formata bytes em unidades legíveis
func formatBytes(bytes float64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	unit := 0

	for bytes >= 1024 && unit < len(units)-1 {
		bytes /= 1024
		unit++
	}

	if unit == 0 {
		return fmt.Sprintf("%.0f %s", bytes, units[unit])
	}
	return fmt.Sprintf("%.1f %s", bytes, units[unit])
}

// FormatBytes é formatBytes para contagens inteiras.
func FormatBytes(n uint64) string { return formatBytes(float64(n)) }

// formata duração em formato legível
func formatDuration(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%.0fs", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%02d:%02d", int(seconds/60), int(seconds)%60)
	default:
		hours := int(seconds / 3600)
		minutes := int(seconds-float64(hours*3600)) / 60
		return fmt.Sprintf("%02d:%02d:00", hours, minutes)
	}
}

// Helper functions para formatação

// remove espaços de um host; colchetes de IPv6 são mantidos
func FormatHost(host string) string {
	return strings.ReplaceAll(strings.TrimSpace(host), " ", "")
}

// mantém só os dígitos de uma porta
func FormatPort(port string) string {
	var result strings.Builder
	for _, char := range strings.TrimSpace(port) {
		if char >= '0' && char <= '9' {
			result.WriteRune(char)
		}
	}
	return result.String()
}
