// Package engine manages the device-resident simulation state of an N-body
// system: the device context, the per-body buffers, the kernel bindings,
// the integration step and the two-stage reduction that turns per-body
// diagnostic output into a single scalar.
//
// # Lifecycle
//
//	dev, _ := device.Open("host")
//	st, err := engine.Initialize(dev, "rk2", 1e-3)
//	if err != nil { ... }
//	defer st.Teardown()
//
//	n, err := st.Allocate(15360)   // rounded down to a multiple of GroupSize
//	m, _ := st.Map(engine.Position, device.WriteOnly)
//	... fill m.Data ...
//	st.Unmap(m)
//
//	st.Advance()
//	ke, _ := st.KineticEnergy()
//
// # Capacity
//
// The reduction runs in exactly two stages, so a state holds at most
// GroupSize² bodies. Allocate rejects larger counts with
// [ErrCapacityExceeded].
//
// # Thread Safety
//
// A State is NOT safe for concurrent use. Every operation blocks until the
// device has finished it.
package engine
