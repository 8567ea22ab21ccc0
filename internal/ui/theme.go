package ui

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
)

// tema escuro do cliente; o visor de logs assume fundo escuro
type TransferTheme struct {
	fyne.Theme
}

// cria o tema do cliente sobre o tema padrão do fyne
func NewTransferTheme() *TransferTheme {
	return &TransferTheme{Theme: theme.DefaultTheme()}
}

// força a variante escura e ajusta as cores de estado
func (t *TransferTheme) Color(name fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	switch name {
	case theme.ColorNamePrimary:
		return color.RGBA{R: 0x3D, G: 0x8B, B: 0xFD, A: 0xFF}
	case theme.ColorNameSuccess:
		return color.RGBA{R: 0x6A, G: 0xE3, B: 0x7A, A: 0xFF}
	case theme.ColorNameWarning:
		return color.RGBA{R: 0xFF, G: 0xD7, B: 0x64, A: 0xFF}
	case theme.ColorNameError:
		return color.RGBA{R: 0xFF, G: 0x55, B: 0x55, A: 0xFF}
	case theme.ColorNameBackground:
		return color.RGBA{R: 0x1E, G: 0x1F, B: 0x24, A: 0xFF}
	default:
		return t.Theme.Color(name, theme.VariantDark)
	}
}

func (t *TransferTheme) Size(name fyne.ThemeSizeName) float32 {
	switch name {
	case theme.SizeNamePadding:
		return 6
	case theme.SizeNameInputRadius:
		return 4
	default:
		return t.Theme.Size(name)
	}
}
