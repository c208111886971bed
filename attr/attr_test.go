package attr

import (
	"runtime"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		attr *Attr
		ok   bool
	}{
		{"nil", nil, true},
		{"zero", &Attr{}, true},
		{"nice", &Attr{Priority: 5}, true},
		{"nice too high", &Attr{Priority: 20}, false},
		{"batch", &Attr{Policy: Batch}, true},
		{"rr", &Attr{Policy: RR, RTPriority: 10}, true},
		{"rr without priority", &Attr{Policy: RR}, false},
		{"other with rt priority", &Attr{Policy: Other, RTPriority: 3}, false},
		{"unknown policy", &Attr{Policy: "deadline"}, false},
		{"negative cpu", &Attr{CPUs: []int{-1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.attr.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestZeroApply(t *testing.T) {
	var a *Attr
	if !a.IsZero() {
		t.Fatal("nil Attr should be zero")
	}
	if err := a.Apply(); err != nil {
		t.Fatal(err)
	}
}

func TestApplyAffinity(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("affinity is linux-only")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cpus, err := Current()
	if err != nil {
		t.Fatal(err)
	}
	if len(cpus) == 0 {
		t.Fatal("no cpus?")
	}

	// Pin to one CPU we already have, and then restore.
	a := &Attr{CPUs: cpus[:1]}
	if err := a.Apply(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		restore := &Attr{CPUs: cpus}
		if err := restore.Apply(); err != nil {
			t.Fatal(err)
		}
	}()

	got, err := Current()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != cpus[0] {
		t.Fatalf("affinity is %v, wanted [%d]", got, cpus[0])
	}
}
