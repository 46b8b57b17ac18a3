package metrics

import "testing"

func TestProbeResult(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
		want string
	}{
		{"success", true, ResultOK},
		{"failure", false, ResultFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProbeResult(tt.ok); got != tt.want {
				t.Errorf("ProbeResult(%v) = %q, want %q", tt.ok, got, tt.want)
			}
		})
	}
}
