package imgdata

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Volume is an image volume (3-D, or 4-D when NT > 1) on a regular grid.
// Data is stored x-fastest as one flat slice; two volumes are grid-compatible
// when their dimensions match. Volumes are treated as immutable once placed
// in a workspace: derived results get fresh backing slices.
type Volume struct {
	Name           string
	NX, NY, NZ, NT int
	Data           []float64
}

func New(name string, nx, ny, nz, nt int) *Volume {
	if nt < 1 {
		nt = 1
	}
	return &Volume{
		Name: name,
		NX:   nx, NY: ny, NZ: nz, NT: nt,
		Data: make([]float64, nx*ny*nz*nt),
	}
}

// VolSize is the number of voxels in a single time-point.
func (v *Volume) VolSize() int { return v.NX * v.NY * v.NZ }

// NVols is the number of time-points.
func (v *Volume) NVols() int { return v.NT }

// Derived returns a new volume on the same grid as v carrying data.
func (v *Volume) Derived(name string, data []float64) (*Volume, error) {
	nt := len(data) / v.VolSize()
	if nt*v.VolSize() != len(data) || nt < 1 {
		return nil, fmt.Errorf("imgdata: derived data length %d does not fit grid %dx%dx%d", len(data), v.NX, v.NY, v.NZ)
	}
	return &Volume{Name: name, NX: v.NX, NY: v.NY, NZ: v.NZ, NT: nt, Data: data}, nil
}

// Vol extracts time-point t as a 3-D volume sharing no storage with v.
func (v *Volume) Vol(t int) (*Volume, error) {
	if t < 0 || t >= v.NT {
		return nil, fmt.Errorf("imgdata: volume index %d out of range [0,%d)", t, v.NT)
	}
	n := v.VolSize()
	data := make([]float64, n)
	copy(data, v.Data[t*n:(t+1)*n])
	return &Volume{Name: fmt.Sprintf("%s_vol%04d", v.Name, t), NX: v.NX, NY: v.NY, NZ: v.NZ, NT: 1, Data: data}, nil
}

// Mean averages across time-points, giving a 3-D volume.
func (v *Volume) Mean(name string) *Volume {
	n := v.VolSize()
	out := make([]float64, n)
	for t := 0; t < v.NT; t++ {
		floats.Add(out, v.Data[t*n:(t+1)*n])
	}
	floats.Scale(1/float64(v.NT), out)
	return &Volume{Name: name, NX: v.NX, NY: v.NY, NZ: v.NZ, NT: 1, Data: out}
}

// DiffMean computes the mean tag/control difference (control minus tag) for
// an interleaved series. iaf "tc" means tag first, "ct" control first.
func (v *Volume) DiffMean(name, iaf string) (*Volume, error) {
	if iaf != "tc" && iaf != "ct" {
		return nil, fmt.Errorf("imgdata: iaf %q is not an interleaved tag/control format", iaf)
	}
	if v.NT%2 != 0 {
		return nil, fmt.Errorf("imgdata: %s has %d volumes, tag/control data needs an even count", v.Name, v.NT)
	}
	n := v.VolSize()
	out := make([]float64, n)
	for pair := 0; pair < v.NT/2; pair++ {
		tag, ctl := 2*pair, 2*pair+1
		if iaf == "ct" {
			tag, ctl = ctl, tag
		}
		for i := 0; i < n; i++ {
			out[i] += v.Data[ctl*n+i] - v.Data[tag*n+i]
		}
	}
	floats.Scale(2/float64(v.NT), out)
	return &Volume{Name: name, NX: v.NX, NY: v.NY, NZ: v.NZ, NT: 1, Data: out}, nil
}

// Stack concatenates grid-compatible volumes along the time axis.
func Stack(name string, vols ...*Volume) (*Volume, error) {
	if len(vols) == 0 {
		return nil, fmt.Errorf("imgdata: nothing to stack")
	}
	first := vols[0]
	nt := 0
	for _, v := range vols {
		if v.NX != first.NX || v.NY != first.NY || v.NZ != first.NZ {
			return nil, fmt.Errorf("imgdata: cannot stack %s onto %s, grids differ", v.Name, first.Name)
		}
		nt += v.NT
	}
	out := New(name, first.NX, first.NY, first.NZ, nt)
	off := 0
	for _, v := range vols {
		copy(out.Data[off:], v.Data)
		off += len(v.Data)
	}
	return out, nil
}

// Ratio returns a/b voxelwise on a's grid.
func Ratio(name string, a, b *Volume) (*Volume, error) {
	if len(a.Data) != len(b.Data) {
		return nil, fmt.Errorf("imgdata: ratio of %s and %s, grids differ", a.Name, b.Name)
	}
	out := make([]float64, len(a.Data))
	copy(out, a.Data)
	floats.Div(out, b.Data)
	return a.Derived(name, out)
}

// Reciprocal returns 1/v voxelwise.
func Reciprocal(name string, v *Volume) (*Volume, error) {
	out := make([]float64, len(v.Data))
	for i, x := range v.Data {
		out[i] = 1 / x
	}
	return v.Derived(name, out)
}

// MulBroadcast multiplies every time-point of a by the 3-D volume b.
func MulBroadcast(name string, a, b *Volume) (*Volume, error) {
	if b.NT != 1 || a.VolSize() != b.VolSize() {
		return nil, fmt.Errorf("imgdata: cannot scale %s by %s", a.Name, b.Name)
	}
	n := a.VolSize()
	out := make([]float64, len(a.Data))
	copy(out, a.Data)
	for t := 0; t < a.NT; t++ {
		floats.Mul(out[t*n:(t+1)*n], b.Data)
	}
	return a.Derived(name, out)
}

// DivBroadcast divides every time-point of a by the 3-D volume b.
func DivBroadcast(name string, a, b *Volume) (*Volume, error) {
	if b.NT != 1 || a.VolSize() != b.VolSize() {
		return nil, fmt.Errorf("imgdata: cannot divide %s by %s", a.Name, b.Name)
	}
	n := a.VolSize()
	out := make([]float64, len(a.Data))
	copy(out, a.Data)
	for t := 0; t < a.NT; t++ {
		floats.Div(out[t*n:(t+1)*n], b.Data)
	}
	return a.Derived(name, out)
}
