package imgdata

import (
	"math"
	"testing"
)

func seq(n int, base float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base + float64(i)
	}
	return out
}

func TestMean(t *testing.T) {
	v := New("asl", 2, 1, 1, 3)
	copy(v.Data, []float64{1, 2, 3, 4, 5, 6})
	m := v.Mean("asl_mean")
	if m.NT != 1 {
		t.Fatalf("mean NT = %d", m.NT)
	}
	if m.Data[0] != 3 || m.Data[1] != 4 {
		t.Fatalf("mean = %v", m.Data)
	}
}

func TestDiffMean(t *testing.T) {
	v := New("asl", 1, 1, 1, 4)
	// tag, control, tag, control
	copy(v.Data, []float64{10, 13, 20, 25})
	pwi, err := v.DiffMean("pwi", "tc")
	if err != nil {
		t.Fatalf("DiffMean: %v", err)
	}
	if pwi.Data[0] != 4 {
		t.Fatalf("tc diff mean = %v, want 4", pwi.Data[0])
	}
	pwi, err = v.DiffMean("pwi", "ct")
	if err != nil {
		t.Fatalf("DiffMean: %v", err)
	}
	if pwi.Data[0] != -4 {
		t.Fatalf("ct diff mean = %v, want -4", pwi.Data[0])
	}
	if _, err := v.DiffMean("pwi", "diff"); err == nil {
		t.Fatal("expected error for non-interleaved format")
	}
}

func TestStack(t *testing.T) {
	a := New("calib", 2, 2, 1, 1)
	copy(a.Data, seq(4, 0))
	b := New("cblip", 2, 2, 1, 1)
	copy(b.Data, seq(4, 10))
	s, err := Stack("calib_blipped", a, b)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if s.NT != 2 {
		t.Fatalf("stack NT = %d", s.NT)
	}
	if s.Data[0] != 0 || s.Data[4] != 10 {
		t.Fatalf("stack data = %v", s.Data)
	}

	c := New("wrong", 3, 2, 1, 1)
	if _, err := Stack("bad", a, c); err == nil {
		t.Fatal("expected grid mismatch error")
	}
}

func TestRatioReciprocal(t *testing.T) {
	a := New("calib", 2, 1, 1, 1)
	copy(a.Data, []float64{8, 9})
	b := New("cref", 2, 1, 1, 1)
	copy(b.Data, []float64{2, 3})
	r, err := Ratio("sens", a, b)
	if err != nil {
		t.Fatalf("Ratio: %v", err)
	}
	if r.Data[0] != 4 || r.Data[1] != 3 {
		t.Fatalf("ratio = %v", r.Data)
	}
	rec, err := Reciprocal("inv", b)
	if err != nil {
		t.Fatalf("Reciprocal: %v", err)
	}
	if rec.Data[0] != 0.5 {
		t.Fatalf("reciprocal = %v", rec.Data)
	}
}

func TestBroadcastOps(t *testing.T) {
	a := New("asl", 2, 1, 1, 2)
	copy(a.Data, []float64{1, 2, 3, 4})
	j := New("jacobian", 2, 1, 1, 1)
	copy(j.Data, []float64{2, 0.5})

	mul, err := MulBroadcast("scaled", a, j)
	if err != nil {
		t.Fatalf("MulBroadcast: %v", err)
	}
	want := []float64{2, 1, 6, 2}
	for i := range want {
		if math.Abs(mul.Data[i]-want[i]) > 1e-12 {
			t.Fatalf("mul = %v, want %v", mul.Data, want)
		}
	}
	div, err := DivBroadcast("unscaled", mul, j)
	if err != nil {
		t.Fatalf("DivBroadcast: %v", err)
	}
	for i := range a.Data {
		if math.Abs(div.Data[i]-a.Data[i]) > 1e-12 {
			t.Fatalf("div did not undo mul: %v", div.Data)
		}
	}
	// Inputs untouched.
	if a.Data[0] != 1 {
		t.Fatal("broadcast ops must not mutate their inputs")
	}
}

func TestVolExtract(t *testing.T) {
	v := New("asl", 2, 1, 1, 2)
	copy(v.Data, []float64{1, 2, 3, 4})
	one, err := v.Vol(1)
	if err != nil {
		t.Fatalf("Vol: %v", err)
	}
	if one.Data[0] != 3 || one.Data[1] != 4 {
		t.Fatalf("vol 1 = %v", one.Data)
	}
	if _, err := v.Vol(2); err == nil {
		t.Fatal("expected out of range error")
	}
}
