// Package viz renders simulations in the terminal.
//
//   - [Canvas]: Braille-based pixel canvas, 2x4 dots per cell
//   - [Monitor]: Bubble Tea model that steps an engine one tick per frame
//     and plots body positions next to the invariants
//
// # Key Bindings
//
//	Space - Pause/Resume simulation
//	+/-   - Zoom in/out
//	R     - Refit the view to the bodies
//	Q     - Quit
package viz
