package detail

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		want   Level
		wantOK bool
	}{
		{"minimal", Minimal, true},
		{"Compact", Compact, true},
		{" STANDARD ", Standard, true},
		{"detailed", Detailed, true},
		{"verbose", Minimal, false},
		{"", Minimal, false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Parse(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestOrderingAndNames(t *testing.T) {
	if !Detailed.AtLeast(Standard) || Compact.AtLeast(Standard) {
		t.Error("AtLeast ordering is wrong")
	}
	for i, n := range Names() {
		if Level(i).String() != n {
			t.Errorf("Level(%d).String() = %q, want %q", i, Level(i).String(), n)
		}
	}
	if Level(9).String() != "unknown" {
		t.Error("out-of-range level should stringify as unknown")
	}
}
