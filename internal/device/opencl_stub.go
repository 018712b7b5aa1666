//go:build !opencl

package device

// OpenCLBackend is a placeholder when the binary is built without the
// opencl tag. Every operation reports ErrDeviceUnavailable.
type OpenCLBackend struct{}

func NewOpenCLBackend() *OpenCLBackend {
	return &OpenCLBackend{}
}

func (b *OpenCLBackend) Name() string    { return "opencl (not available)" }
func (b *OpenCLBackend) Available() bool { return false }

func (b *OpenCLBackend) Probe() (Info, error) {
	return Info{}, ErrDeviceUnavailable
}

func (b *OpenCLBackend) BuildProgram(source []byte) (Program, error) {
	return nil, ErrDeviceUnavailable
}

func (b *OpenCLBackend) NewBuffer(elems int) (Buffer, error) {
	return nil, ErrDeviceUnavailable
}

func (b *OpenCLBackend) Queue() Queue { return nil }
func (b *OpenCLBackend) Release()     {}
