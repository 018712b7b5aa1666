// Package kernels holds the compute programs the engine runs and the Go
// implementations the host backend executes in their place.
//
// Each model variant is one program source:
//
//	unit      unit-mass bodies, take_step_euler
//	weighted  mass-weighted bodies, take_step_rk2
//
// Both declare kinetic_energy, potential_energy, angular_momentum and a
// shared reduce entry point. Importing this package registers the host
// implementations with the device package.
package kernels
