package auth

import "testing"

func strPtr(s string) *string { return &s }

func TestIsAdmin(t *testing.T) {
	p := NewAdminPredicate("jasonlaceyyy8638@gmail.com")

	tests := []struct {
		name  string
		email *string
		want  bool
	}{
		{name: "exact match", email: strPtr("jasonlaceyyy8638@gmail.com"), want: true},
		{name: "mixed case and surrounding whitespace", email: strPtr("JasonLaceyyy8638@gmail.com  "), want: true},
		{name: "nil email", email: nil, want: false},
		{name: "blank email", email: strPtr("   "), want: false},
		{name: "other address", email: strPtr("other@example.com"), want: false},
		{name: "same domain is not enough", email: strPtr("someone@gmail.com"), want: false},
		{name: "prefix of admin address", email: strPtr("jasonlaceyyy8638@gmail.co"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsAdmin(tt.email); got != tt.want {
				t.Errorf("IsAdmin(%v) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}

func TestIsAdmin_CaseInsensitiveBothWays(t *testing.T) {
	upper := NewAdminPredicate("  Ops@Example.COM ")
	if !upper.IsAdmin(strPtr("ops@example.com")) {
		t.Error("configured address should be normalized too")
	}
}

func TestIsAdmin_UnconfiguredMatchesNobody(t *testing.T) {
	p := NewAdminPredicate("")
	if p.IsAdmin(strPtr("")) || p.IsAdmin(strPtr("anyone@example.com")) {
		t.Error("empty admin email must not match anything")
	}

	var nilPredicate *AdminPredicate
	if nilPredicate.IsAdmin(strPtr("anyone@example.com")) {
		t.Error("nil predicate must not match anything")
	}
}
