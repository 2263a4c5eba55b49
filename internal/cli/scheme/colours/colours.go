package colours

import "github.com/fatih/color"

// Console palette
var (
	Title   = color.New(color.FgCyan, color.Bold)
	Heading = color.New(color.FgMagenta, color.Bold)
	Final   = color.New(color.FgWhite, color.Bold)
	Interim = color.New(color.FgHiBlack, color.Italic)
	Prompt  = color.New(color.FgGreen, color.Bold)
	Error   = color.New(color.FgRed, color.Bold)
	Success = color.New(color.FgGreen)
	Info    = color.New(color.FgBlue)
	Warning = color.New(color.FgYellow)
)

// OnOff renders a toggle state.
func OnOff(on bool) string {
	if on {
		return Success.Sprint("on")
	}
	return Warning.Sprint("off")
}
