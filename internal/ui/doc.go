// Package ui renders forkterm's terminal output.
//
// Styles come from a small ANSI palette so output follows the user's theme,
// and DisableColors or ApplyColorMode("never") turns them off entirely.
// Track shows a Bubble Tea spinner while a run is in flight:
//
//	res := ui.Track(os.Stderr, "Running on sandbox",
//		func() *request.Result { return r.Run(ctx, req) },
//		func(res *request.Result) bool { return res.Success })
//
// RenderResult formats a finished run: status line, captured output,
// downloaded files, and the error with its suggestion.
package ui
