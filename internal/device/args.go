package device

import "fmt"

// ParamKind classifies a kernel parameter by address space and type.
type ParamKind int

const (
	ParamGlobal ParamKind = iota // __global float* / float2*
	ParamLocal                   // __local scratch, one tile per work group
	ParamFloat                   // float scalar
	ParamUlong                   // ulong scalar
)

func (k ParamKind) String() string {
	switch k {
	case ParamGlobal:
		return "global"
	case ParamLocal:
		return "local"
	case ParamFloat:
		return "float"
	case ParamUlong:
		return "ulong"
	}
	return fmt.Sprintf("ParamKind(%d)", int(k))
}

// Arg is a value bound to a kernel parameter. The set of implementations is
// closed: BufferArg, LocalArg, Float32Arg and Uint64Arg.
type Arg interface {
	Kind() ParamKind
}

type BufferArg struct {
	Buffer Buffer
}

// LocalArg requests per-work-group scratch of Elems elements, each Width
// float32 components wide.
type LocalArg struct {
	Elems int
	Width int
}

type Float32Arg float32

type Uint64Arg uint64

func (BufferArg) Kind() ParamKind  { return ParamGlobal }
func (LocalArg) Kind() ParamKind   { return ParamLocal }
func (Float32Arg) Kind() ParamKind { return ParamFloat }
func (Uint64Arg) Kind() ParamKind  { return ParamUlong }

// Bytes is the scratch size the device reserves per work group.
func (l LocalArg) Bytes() int { return l.Elems * l.Width * 4 }

func formatParams(params []ParamKind) string {
	s := ""
	for i, p := range params {
		if i > 0 {
			s += ", "
		}
		s += p.String()
	}
	return s
}
