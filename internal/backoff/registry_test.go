package backoff

import "testing"

func TestForName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", NameExponential, false},
		{NameExponential, NameExponential, false},
		{NameExponentialJitter, NameExponentialJitter, false},
		{NameDecorrelatedJitter, NameDecorrelatedJitter, false},
		{"fibonacci", "", true},
	}

	for _, tt := range tests {
		s, err := ForName(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ForName(%q) expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ForName(%q) unexpected error: %v", tt.name, err)
		}
		if s.Name() != tt.want {
			t.Errorf("ForName(%q).Name() = %q, want %q", tt.name, s.Name(), tt.want)
		}
	}
}
