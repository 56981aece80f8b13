package hotkey

import "golang.design/x/hotkey"

var modifiers = map[string]hotkey.Modifier{
	"ctrl":    hotkey.ModCtrl,
	"control": hotkey.ModCtrl,
	"shift":   hotkey.ModShift,
	"alt":     hotkey.ModAlt,
	"menu":    hotkey.ModAlt,
	"win":     hotkey.ModWin,
	"super":   hotkey.ModWin,
	"meta":    hotkey.ModWin,
	"cmd":     hotkey.ModWin,
}
