package xfm

import (
	"oxasl/internal/imgdata"
)

// Field is a dense displacement field mapping From space to To space.
// Warp carries one volume per displacement component (NT == 3). Inversion is
// numerical and delegated to the solver; the orchestration layer only tracks
// the space pair.
type Field struct {
	from, to Space
	Warp     *imgdata.Volume
}

func NewField(from, to Space, warp *imgdata.Volume) *Field {
	return &Field{from: from, to: to, Warp: warp}
}

func (f *Field) From() Space { return f.from }
func (f *Field) To() Space   { return f.to }

func (f *Field) String() string {
	name := "<nil>"
	if f.Warp != nil {
		name = f.Warp.Name
	}
	return "Field[" + string(f.from) + "->" + string(f.to) + " " + name + "]"
}
