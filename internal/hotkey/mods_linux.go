package hotkey

import "golang.design/x/hotkey"

// Mod1 is Alt and Mod4 is Super under the default X11 keymap.
var modifiers = map[string]hotkey.Modifier{
	"ctrl":    hotkey.ModCtrl,
	"control": hotkey.ModCtrl,
	"shift":   hotkey.ModShift,
	"alt":     hotkey.Mod1,
	"win":     hotkey.Mod4,
	"super":   hotkey.Mod4,
	"meta":    hotkey.Mod4,
	"cmd":     hotkey.Mod4,
}
