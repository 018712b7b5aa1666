package device

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// HostImpl is a Go implementation of a kernel entry point. Run is called
// once per work group and may execute concurrently for different groups.
type HostImpl struct {
	Name   string
	Params []ParamKind
	Run    func(g *WorkGroup) error
}

var (
	hostMu    sync.RWMutex
	hostImpls = make(map[string][]HostImpl)
)

// RegisterHostKernel makes impl available to programs built by the host
// backend. Registering the same name and signature twice panics.
func RegisterHostKernel(impl HostImpl) {
	hostMu.Lock()
	defer hostMu.Unlock()

	if impl.Run == nil {
		panic("device: RegisterHostKernel with nil Run for " + impl.Name)
	}
	for _, existing := range hostImpls[impl.Name] {
		if sameParams(existing.Params, impl.Params) {
			panic(fmt.Sprintf("device: host kernel %s(%s) registered twice", impl.Name, formatParams(impl.Params)))
		}
	}
	hostImpls[impl.Name] = append(hostImpls[impl.Name], impl)
}

func lookupHostKernel(name string, params []ParamKind) (HostImpl, bool) {
	hostMu.RLock()
	defer hostMu.RUnlock()
	for _, impl := range hostImpls[name] {
		if sameParams(impl.Params, params) {
			return impl, true
		}
	}
	return HostImpl{}, false
}

func sameParams(a, b []ParamKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var (
	kernelDecl    = regexp.MustCompile(`__kernel\s+void\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`)
	lineComment   = regexp.MustCompile(`//[^\n]*`)
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	identifierEnd = regexp.MustCompile(`\s*[A-Za-z_]\w*\s*$`)
)

type kernelDeclaration struct {
	name   string
	params []ParamKind
	impl   HostImpl
}

type hostProgram struct {
	kernels  map[string]*kernelDeclaration
	released bool
}

// buildHostProgram parses kernel declarations and binds each to a host
// implementation. Problems are collected into a build log.
func buildHostProgram(source []byte) (*hostProgram, error) {
	src := blockComment.ReplaceAllString(string(source), "")
	src = lineComment.ReplaceAllString(src, "")

	var log []string
	if strings.TrimSpace(src) == "" {
		return nil, &BuildError{Log: "error: empty program source"}
	}
	if depth := braceDepth(src); depth != 0 {
		log = append(log, fmt.Sprintf("error: unbalanced braces (depth %d at end of source)", depth))
	}

	p := &hostProgram{kernels: make(map[string]*kernelDeclaration)}
	for _, m := range kernelDecl.FindAllStringSubmatch(src, -1) {
		name := m[1]
		params, err := parseParams(m[2])
		if err != nil {
			log = append(log, fmt.Sprintf("error: kernel %s: %v", name, err))
			continue
		}
		if _, dup := p.kernels[name]; dup {
			log = append(log, fmt.Sprintf("error: redefinition of kernel %s", name))
			continue
		}
		impl, ok := lookupHostKernel(name, params)
		if !ok {
			log = append(log, fmt.Sprintf("error: kernel %s(%s): no host implementation for this signature", name, formatParams(params)))
			continue
		}
		p.kernels[name] = &kernelDeclaration{name: name, params: params, impl: impl}
	}

	if len(p.kernels) == 0 && len(log) == 0 {
		log = append(log, "error: program declares no kernels")
	}
	if len(log) > 0 {
		return nil, &BuildError{Log: strings.Join(log, "\n")}
	}
	return p, nil
}

func braceDepth(src string) int {
	depth := 0
	for _, r := range src {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth
}

func parseParams(list string) ([]ParamKind, error) {
	list = strings.TrimSpace(list)
	if list == "" || list == "void" {
		return nil, nil
	}

	var params []ParamKind
	for i, raw := range strings.Split(list, ",") {
		p := strings.TrimSpace(raw)
		switch {
		case strings.Contains(p, "__global") || strings.HasPrefix(p, "global "):
			params = append(params, ParamGlobal)
		case strings.Contains(p, "__local") || strings.HasPrefix(p, "local "):
			params = append(params, ParamLocal)
		default:
			typ := strings.TrimSpace(identifierEnd.ReplaceAllString(p, ""))
			typ = strings.TrimSpace(strings.TrimPrefix(typ, "const "))
			switch typ {
			case "float":
				params = append(params, ParamFloat)
			case "ulong", "unsigned long":
				params = append(params, ParamUlong)
			default:
				return nil, fmt.Errorf("parameter %d: unsupported type %q", i, typ)
			}
		}
	}
	return params, nil
}

func (p *hostProgram) Kernel(name string) (Kernel, error) {
	if p.released {
		return nil, ErrReleased
	}
	decl, ok := p.kernels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKernelNotFound, name)
	}
	return &hostKernel{decl: decl, impl: decl.impl, args: make([]Arg, len(decl.params))}, nil
}

func (p *hostProgram) Kernels() []string {
	names := make([]string, 0, len(p.kernels))
	for name := range p.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *hostProgram) Release() {
	p.released = true
}

type hostKernel struct {
	decl     *kernelDeclaration
	impl     HostImpl
	args     []Arg
	released bool
}

func (k *hostKernel) Name() string { return k.decl.name }

func (k *hostKernel) SetArg(index int, arg Arg) error {
	if k.released {
		return ErrReleased
	}
	if index < 0 || index >= len(k.decl.params) {
		return fmt.Errorf("%w: %s has %d parameters, index %d", ErrInvalidArg, k.decl.name, len(k.decl.params), index)
	}
	if arg == nil {
		return fmt.Errorf("%w: %s argument %d is nil", ErrInvalidArg, k.decl.name, index)
	}
	want := k.decl.params[index]
	if arg.Kind() != want {
		return fmt.Errorf("%w: %s argument %d: parameter is %s, got %s", ErrInvalidArg, k.decl.name, index, want, arg.Kind())
	}

	switch a := arg.(type) {
	case BufferArg:
		buf, ok := a.Buffer.(*hostBuffer)
		if !ok || buf == nil || buf.released {
			return fmt.Errorf("%w: %s argument %d is not a live host buffer", ErrInvalidArg, k.decl.name, index)
		}
	case LocalArg:
		if a.Elems <= 0 || a.Width <= 0 {
			return fmt.Errorf("%w: %s argument %d: local scratch %dx%d", ErrInvalidArg, k.decl.name, index, a.Elems, a.Width)
		}
	}

	k.args[index] = arg
	return nil
}

func (k *hostKernel) Release() {
	k.released = true
}
