package kernels

import (
	"fmt"
	"math"

	"github.com/san-kum/gravsim/internal/device"
)

const (
	gb = device.ParamGlobal
	lc = device.ParamLocal
	fl = device.ParamFloat
	ul = device.ParamUlong
)

func init() {
	for _, impl := range HostImpls() {
		device.RegisterHostKernel(impl)
	}
}

// HostImpls lists the host implementation of every entry point declared by
// the embedded programs. reduce is shared by both programs.
func HostImpls() []device.HostImpl {
	return []device.HostImpl{
		{Name: StepPrefix + "euler", Params: []device.ParamKind{gb, gb, fl, lc}, Run: stepEuler},
		{Name: KineticEnergy, Params: []device.ParamKind{gb, gb}, Run: kineticUnit},
		{Name: PotentialEnergy, Params: []device.ParamKind{gb, gb, lc}, Run: potentialUnit},
		{Name: AngularMomentum, Params: []device.ParamKind{gb, gb, gb}, Run: angularUnit},

		{Name: StepPrefix + "rk2", Params: []device.ParamKind{gb, gb, gb, fl, lc, lc}, Run: stepRK2},
		{Name: KineticEnergy, Params: []device.ParamKind{gb, gb, gb}, Run: kineticWeighted},
		{Name: PotentialEnergy, Params: []device.ParamKind{gb, gb, gb, lc, lc}, Run: potentialWeighted},
		{Name: AngularMomentum, Params: []device.ParamKind{gb, gb, gb, gb}, Run: angularWeighted},

		{Name: Reduce, Params: []device.ParamKind{gb, lc, ul}, Run: reduce},
	}
}

func need(buf []float32, elems int, what string) error {
	if len(buf) < elems {
		return fmt.Errorf("%s holds %d values, launch needs %d", what, len(buf), elems)
	}
	return nil
}

func r3Inv(r2 float32) float32 {
	r := math.Sqrt(float64(r2))
	return float32(1 / (r * r * r))
}

// body yields the position and mass a tile caches for body j.
type body func(j int) (x, y, m float32)

// accumulateForce adds to ax, ay the acceleration every item of the group
// feels from all bodies, evaluated at (px, py). Bodies are staged through
// tile (and mtile, when masses apply) one work group's worth at a time.
func accumulateForce(g *device.WorkGroup, tile, mtile []float32, load body, px, py, ax, ay []float32) {
	for base := 0; base < g.Global; base += g.Size {
		for k := 0; k < g.Size; k++ {
			x, y, m := load(base + k)
			tile[2*k], tile[2*k+1] = x, y
			if mtile != nil {
				mtile[k] = m
			}
		}

		for l := 0; l < g.Size; l++ {
			for k := 0; k < g.Size; k++ {
				rx := tile[2*k] - px[l]
				ry := tile[2*k+1] - py[l]
				f := r3Inv(rx*rx + ry*ry + Softening)
				if mtile != nil {
					f *= mtile[k]
				}
				ax[l] += f * rx
				ay[l] += f * ry
			}
		}
	}
}

// accumulatePotential adds to u the potential every item of the group has
// with all other bodies.
func accumulatePotential(g *device.WorkGroup, tile, mtile []float32, load body, px, py, u []float32) {
	for base := 0; base < g.Global; base += g.Size {
		for k := 0; k < g.Size; k++ {
			x, y, m := load(base + k)
			tile[2*k], tile[2*k+1] = x, y
			if mtile != nil {
				mtile[k] = m
			}
		}

		for l := 0; l < g.Size; l++ {
			i := g.Base() + l
			for k := 0; k < g.Size; k++ {
				if base+k == i {
					continue
				}
				rx := tile[2*k] - px[l]
				ry := tile[2*k+1] - py[l]
				v := float32(1 / math.Sqrt(float64(rx*rx+ry*ry+Softening)))
				if mtile != nil {
					v *= mtile[k]
				}
				u[l] -= v
			}
		}
	}
}

func groupPositions(g *device.WorkGroup, pos []float32) (px, py []float32) {
	px = make([]float32, g.Size)
	py = make([]float32, g.Size)
	for l := 0; l < g.Size; l++ {
		i := g.Base() + l
		px[l], py[l] = pos[2*i], pos[2*i+1]
	}
	return px, py
}

// take_step_euler(pos, vel, dt, local float2[G])
func stepEuler(g *device.WorkGroup) error {
	pos, vel := g.Read(0), g.Read(1)
	dt := g.Float32(2)
	tile := g.Local(3)
	if err := checkVectors(g, pos, vel); err != nil {
		return err
	}
	if err := need(tile, 2*g.Size, "local tile"); err != nil {
		return err
	}

	load := func(j int) (float32, float32, float32) { return pos[2*j], pos[2*j+1], 1 }
	px, py := groupPositions(g, pos)
	ax := make([]float32, g.Size)
	ay := make([]float32, g.Size)
	accumulateForce(g, tile, nil, load, px, py, ax, ay)

	outPos, outVel := g.Write(0), g.Write(1)
	for l := 0; l < g.Size; l++ {
		i := g.Base() + l
		vx := vel[2*i] + ax[l]*dt
		vy := vel[2*i+1] + ay[l]*dt
		outVel[2*i], outVel[2*i+1] = vx, vy
		outPos[2*i], outPos[2*i+1] = px[l]+vx*dt, py[l]+vy*dt
	}
	return nil
}

// take_step_rk2(mass, pos, vel, dt, local float2[G], local float[G])
func stepRK2(g *device.WorkGroup) error {
	mass, pos, vel := g.Read(0), g.Read(1), g.Read(2)
	dt := g.Float32(3)
	tile, mtile := g.Local(4), g.Local(5)
	if err := checkVectors(g, pos, vel); err != nil {
		return err
	}
	if err := need(mass, g.Global, "mass buffer"); err != nil {
		return err
	}
	if err := need(tile, 2*g.Size, "local tile"); err != nil {
		return err
	}
	if err := need(mtile, g.Size, "local mass tile"); err != nil {
		return err
	}

	halfDt := 0.5 * dt
	px, py := groupPositions(g, pos)

	ax0 := make([]float32, g.Size)
	ay0 := make([]float32, g.Size)
	current := func(j int) (float32, float32, float32) { return pos[2*j], pos[2*j+1], mass[j] }
	accumulateForce(g, tile, mtile, current, px, py, ax0, ay0)

	mx := make([]float32, g.Size)
	my := make([]float32, g.Size)
	for l := 0; l < g.Size; l++ {
		i := g.Base() + l
		mx[l] = px[l] + vel[2*i]*halfDt
		my[l] = py[l] + vel[2*i+1]*halfDt
	}
	ax1 := make([]float32, g.Size)
	ay1 := make([]float32, g.Size)
	midpoint := func(j int) (float32, float32, float32) {
		return pos[2*j] + vel[2*j]*halfDt, pos[2*j+1] + vel[2*j+1]*halfDt, mass[j]
	}
	accumulateForce(g, tile, mtile, midpoint, mx, my, ax1, ay1)

	outPos, outVel := g.Write(1), g.Write(2)
	for l := 0; l < g.Size; l++ {
		i := g.Base() + l
		vx, vy := vel[2*i], vel[2*i+1]
		outPos[2*i] = px[l] + (vx+ax0[l]*halfDt)*dt
		outPos[2*i+1] = py[l] + (vy+ay0[l]*halfDt)*dt
		outVel[2*i] = vx + ax1[l]*dt
		outVel[2*i+1] = vy + ay1[l]*dt
	}
	return nil
}

func checkVectors(g *device.WorkGroup, bufs ...[]float32) error {
	for _, b := range bufs {
		if err := need(b, 2*g.Global, "vector buffer"); err != nil {
			return err
		}
	}
	return nil
}

// kinetic_energy(vel, out)
func kineticUnit(g *device.WorkGroup) error {
	vel, out := g.Read(0), g.Write(1)
	if err := checkVectors(g, vel); err != nil {
		return err
	}
	if err := need(out, g.Global, "output buffer"); err != nil {
		return err
	}
	for l := 0; l < g.Size; l++ {
		i := g.Base() + l
		vx, vy := vel[2*i], vel[2*i+1]
		out[i] = 0.5 * (vx*vx + vy*vy)
	}
	return nil
}

// kinetic_energy(mass, vel, out)
func kineticWeighted(g *device.WorkGroup) error {
	mass, vel, out := g.Read(0), g.Read(1), g.Write(2)
	if err := checkVectors(g, vel); err != nil {
		return err
	}
	if err := need(mass, g.Global, "mass buffer"); err != nil {
		return err
	}
	if err := need(out, g.Global, "output buffer"); err != nil {
		return err
	}
	for l := 0; l < g.Size; l++ {
		i := g.Base() + l
		vx, vy := vel[2*i], vel[2*i+1]
		out[i] = 0.5 * mass[i] * (vx*vx + vy*vy)
	}
	return nil
}

// potential_energy(pos, out, local float2[G])
func potentialUnit(g *device.WorkGroup) error {
	pos, out, tile := g.Read(0), g.Write(1), g.Local(2)
	if err := checkVectors(g, pos); err != nil {
		return err
	}
	if err := need(out, g.Global, "output buffer"); err != nil {
		return err
	}
	if err := need(tile, 2*g.Size, "local tile"); err != nil {
		return err
	}

	load := func(j int) (float32, float32, float32) { return pos[2*j], pos[2*j+1], 1 }
	px, py := groupPositions(g, pos)
	u := make([]float32, g.Size)
	accumulatePotential(g, tile, nil, load, px, py, u)
	for l := 0; l < g.Size; l++ {
		out[g.Base()+l] = 0.5 * u[l]
	}
	return nil
}

// potential_energy(mass, pos, out, local float2[G], local float[G])
func potentialWeighted(g *device.WorkGroup) error {
	mass, pos, out := g.Read(0), g.Read(1), g.Write(2)
	tile, mtile := g.Local(3), g.Local(4)
	if err := checkVectors(g, pos); err != nil {
		return err
	}
	if err := need(mass, g.Global, "mass buffer"); err != nil {
		return err
	}
	if err := need(out, g.Global, "output buffer"); err != nil {
		return err
	}
	if err := need(tile, 2*g.Size, "local tile"); err != nil {
		return err
	}
	if err := need(mtile, g.Size, "local mass tile"); err != nil {
		return err
	}

	load := func(j int) (float32, float32, float32) { return pos[2*j], pos[2*j+1], mass[j] }
	px, py := groupPositions(g, pos)
	u := make([]float32, g.Size)
	accumulatePotential(g, tile, mtile, load, px, py, u)
	for l := 0; l < g.Size; l++ {
		i := g.Base() + l
		out[i] = 0.5 * mass[i] * u[l]
	}
	return nil
}

// angular_momentum(pos, vel, out)
func angularUnit(g *device.WorkGroup) error {
	pos, vel, out := g.Read(0), g.Read(1), g.Write(2)
	if err := checkVectors(g, pos, vel); err != nil {
		return err
	}
	if err := need(out, g.Global, "output buffer"); err != nil {
		return err
	}
	for l := 0; l < g.Size; l++ {
		i := g.Base() + l
		out[i] = pos[2*i]*vel[2*i+1] - pos[2*i+1]*vel[2*i]
	}
	return nil
}

// angular_momentum(mass, pos, vel, out)
func angularWeighted(g *device.WorkGroup) error {
	mass, pos, vel, out := g.Read(0), g.Read(1), g.Read(2), g.Write(3)
	if err := checkVectors(g, pos, vel); err != nil {
		return err
	}
	if err := need(mass, g.Global, "mass buffer"); err != nil {
		return err
	}
	if err := need(out, g.Global, "output buffer"); err != nil {
		return err
	}
	for l := 0; l < g.Size; l++ {
		i := g.Base() + l
		out[i] = mass[i] * (pos[2*i]*vel[2*i+1] - pos[2*i+1]*vel[2*i])
	}
	return nil
}

// reduce(buf, local float[G], ulong n) tree-reduces each group's slice of
// the first n values and writes the group total to buf[group].
func reduce(g *device.WorkGroup) error {
	in, out := g.Read(0), g.Write(0)
	scratch := g.Local(1)
	n := g.Uint64(2)
	if n > uint64(len(in)) {
		return fmt.Errorf("reduce over %d values, buffer holds %d", n, len(in))
	}
	if err := need(scratch, g.Size, "local scratch"); err != nil {
		return err
	}
	if g.ID >= len(out) {
		return fmt.Errorf("reduce group %d has no output slot in a buffer of %d", g.ID, len(out))
	}

	for l := 0; l < g.Size; l++ {
		if gid := g.Base() + l; uint64(gid) < n {
			scratch[l] = in[gid]
		} else {
			scratch[l] = 0
		}
	}

	width := 1
	for width < g.Size {
		width <<= 1
	}
	for s := width >> 1; s > 0; s >>= 1 {
		for l := 0; l < s && l+s < g.Size; l++ {
			scratch[l] += scratch[l+s]
		}
	}

	out[g.ID] = scratch[0]
	return nil
}
