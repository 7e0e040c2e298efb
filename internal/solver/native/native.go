// Package native is a partial pure-Go solver driver. It covers the cheap
// operations (brain extraction by robust thresholding, affine resampling,
// plain-text volume loading) so the pipeline can be exercised without an
// external toolchain; the genuinely numerical estimators report
// solver.ErrUnsupported.
package native

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"oxasl/internal/imgdata"
	"oxasl/internal/solver"
)

type Driver struct {
	solver.Unimplemented
}

func New() solver.Toolkit { return &Driver{} }

// Register installs the driver under the name "native".
func Register() {
	solver.Register("native", New)
}

// LoadImage reads a plain-text volume: a "nx ny nz nt" header line followed
// by whitespace-separated voxel values, x fastest.
func (d *Driver) LoadImage(ctx context.Context, path string) (*imgdata.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	if !sc.Scan() {
		return nil, fmt.Errorf("native: %s: missing header", path)
	}
	dims := strings.Fields(sc.Text())
	if len(dims) != 4 {
		return nil, fmt.Errorf("native: %s: header needs 4 dimensions, got %d", path, len(dims))
	}
	var nx, ny, nz, nt int
	for i, p := range []*int{&nx, &ny, &nz, &nt} {
		v, err := strconv.Atoi(dims[i])
		if err != nil {
			return nil, fmt.Errorf("native: %s: %w", path, err)
		}
		*p = v
	}
	vol := imgdata.New(strings.TrimSuffix(path, ".txt"), nx, ny, nz, nt)
	i := 0
	for sc.Scan() {
		for _, fs := range strings.Fields(sc.Text()) {
			if i >= len(vol.Data) {
				return nil, fmt.Errorf("native: %s: more values than %d voxels", path, len(vol.Data))
			}
			v, err := strconv.ParseFloat(fs, 64)
			if err != nil {
				return nil, fmt.Errorf("native: %s: %w", path, err)
			}
			vol.Data[i] = v
			i++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if i != len(vol.Data) {
		return nil, fmt.Errorf("native: %s: %d values for %d voxels", path, i, len(vol.Data))
	}
	return vol, nil
}

// Extract masks the image at thresh times its robust maximum (the 98th
// intensity percentile), the usual fractional-intensity convention.
func (d *Driver) Extract(ctx context.Context, img *imgdata.Volume, thresh float64) (*imgdata.Volume, error) {
	sorted := make([]float64, len(img.Data))
	copy(sorted, img.Data)
	sort.Float64s(sorted)
	robustMax := stat.Quantile(0.98, stat.Empirical, sorted, nil)
	cut := thresh * robustMax

	out := make([]float64, len(img.Data))
	for i, v := range img.Data {
		if v >= cut {
			out[i] = v
		}
	}
	return img.Derived(img.Name+"_brain", out)
}

// Resample applies a linear pre-transform per volume with trilinear
// interpolation onto the reference grid. Warps are beyond this driver.
func (d *Driver) Resample(ctx context.Context, req solver.ResampleRequest) (*imgdata.Volume, error) {
	if req.Warp != nil {
		return nil, fmt.Errorf("%w: Resample with warp", solver.ErrUnsupported)
	}
	if req.Interp == solver.InterpSinc || req.Interp == solver.InterpSpline {
		// Higher-order kernels degrade to trilinear here.
		req.Interp = solver.InterpTrilinear
	}
	img, ref := req.Image, req.Ref
	out := imgdata.New(img.Name+"_resampled", ref.NX, ref.NY, ref.NZ, img.NT)
	for t := 0; t < img.NT; t++ {
		mat := req.PreMat
		if req.PreMats != nil {
			if len(req.PreMats.Mats) != img.NT {
				return nil, fmt.Errorf("native: %d premats for %d volumes", len(req.PreMats.Mats), img.NT)
			}
			mat = req.PreMats.Mats[t]
		}
		// Output voxels pull from input space through the inverse mapping.
		inv := mat
		if mat != nil {
			var err error
			inv, err = mat.Invert()
			if err != nil {
				return nil, err
			}
		}
		n := ref.NX * ref.NY * ref.NZ
		dst := out.Data[t*n : (t+1)*n]
		for z := 0; z < ref.NZ; z++ {
			for y := 0; y < ref.NY; y++ {
				for x := 0; x < ref.NX; x++ {
					sx, sy, sz := float64(x), float64(y), float64(z)
					if inv != nil {
						sx, sy, sz = inv.Apply(sx, sy, sz)
					}
					dst[z*ref.NX*ref.NY+y*ref.NX+x] = trilinear(img, t, sx, sy, sz)
				}
			}
		}
	}
	return out, nil
}

func trilinear(img *imgdata.Volume, t int, x, y, z float64) float64 {
	x0, y0, z0 := int(math.Floor(x)), int(math.Floor(y)), int(math.Floor(z))
	fx, fy, fz := x-float64(x0), y-float64(y0), z-float64(z0)
	n := img.VolSize()
	at := func(xi, yi, zi int) float64 {
		if xi < 0 || yi < 0 || zi < 0 || xi >= img.NX || yi >= img.NY || zi >= img.NZ {
			return 0
		}
		return img.Data[t*n+zi*img.NX*img.NY+yi*img.NX+xi]
	}
	v := 0.0
	for _, c := range [8][4]float64{
		{0, 0, 0, (1 - fx) * (1 - fy) * (1 - fz)},
		{1, 0, 0, fx * (1 - fy) * (1 - fz)},
		{0, 1, 0, (1 - fx) * fy * (1 - fz)},
		{1, 1, 0, fx * fy * (1 - fz)},
		{0, 0, 1, (1 - fx) * (1 - fy) * fz},
		{1, 0, 1, fx * (1 - fy) * fz},
		{0, 1, 1, (1 - fx) * fy * fz},
		{1, 1, 1, fx * fy * fz},
	} {
		if c[3] == 0 {
			continue
		}
		v += c[3] * at(x0+int(c[0]), y0+int(c[1]), z0+int(c[2]))
	}
	return v
}
