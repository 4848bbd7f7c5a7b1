package catalog

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple", in: "Blue Mug", want: "blue-mug"},
		{name: "punctuation collapses", in: "  Tea -- Pot!!  (XL) ", want: "tea-pot-xl"},
		{name: "digits kept", in: "Cable 2m", want: "cable-2m"},
		{name: "cyrillic letters kept", in: "Чайник Стальной", want: "чайник-стальной"},
		{name: "only symbols", in: "!!!", want: "product"},
		{name: "empty", in: "", want: "product"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Fatalf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlugifyTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "word "
	}
	got := Slugify(long)
	if len(got) > maxSlugLen {
		t.Fatalf("slug too long: %d", len(got))
	}
	if got[len(got)-1] == '-' {
		t.Fatalf("slug must not end with dash: %q", got)
	}
}
