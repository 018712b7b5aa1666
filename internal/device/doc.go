// Package device abstracts the compute accelerator the simulation runs on.
//
// A [Backend] owns one context and one in-order [Queue]. Programs are built
// from a single source blob and expose named [Kernel] entry points whose
// arguments are bound once with [Kernel.SetArg]. Every queue operation is
// blocking from the caller's point of view.
//
// Two backends are provided:
//
//   - host: emulates work groups on the CPU. Always available.
//   - opencl: drives a GPU through the OpenCL C API (build with -tags opencl).
//
// # Host kernels
//
// The host backend does not compile kernel code. It parses the kernel
// declarations in the program source and binds each one to a Go
// implementation registered with [RegisterHostKernel] under the same name
// and parameter signature:
//
//	device.RegisterHostKernel(device.HostImpl{
//		Name:   "kinetic_energy",
//		Params: []device.ParamKind{device.ParamGlobal, device.ParamGlobal},
//		Run:    kineticEnergy,
//	})
//
// Host implementations run once per work group. Buffer reads observe the
// contents as of the start of the launch; writes go to live storage.
package device
