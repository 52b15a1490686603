package ttyguard

import "testing"

func TestShouldSuppress(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		envPrint bool
		envTest  bool
		want     bool
	}{
		{"interactive", []string{"-chart-id", "3"}, false, false, false},
		{"print flag", []string{"-print"}, false, false, true},
		{"double dash", []string{"--serve", "--addr", ":9000"}, false, false, true},
		{"explicit false", []string{"-print=false"}, false, false, false},
		{"explicit true", []string{"-print=true"}, false, false, true},
		{"version", []string{"--version"}, false, false, true},
		{"bare word", []string{"print"}, false, false, false},
		{"env print", nil, true, false, true},
		{"env test", nil, false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldSuppress(tt.args, tt.envPrint, tt.envTest); got != tt.want {
				t.Errorf("shouldSuppress(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}
