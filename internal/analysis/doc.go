// Package analysis characterizes stored runs from their invariant samples.
//
//   - [Analyze]: spectrum of the energy exchange between kinetic and
//     potential energy, with its dominant period in ticks
//   - [PortraitOf]: kinetic against potential energy, drawn with
//     [PhasePortraitToASCII]
//
// A virialized system oscillates about 2K = |U|, so the dominant period is
// the breathing period of the cluster:
//
//	spec, err := analysis.Analyze(samples, analysis.Kinetic)
//	if err == nil {
//	    fmt.Println(spec.DominantPeriod)
//	}
package analysis
