package sms

import "testing"

func TestNormalizePH(t *testing.T) {
	valid := map[string]string{
		"09171234567":      "+639171234567",
		"9171234567":       "+639171234567",
		"639171234567":     "+639171234567",
		"+639171234567":    "+639171234567",
		" 0917-123-4567 ":  "+639171234567",
		"(0917) 123 4567":  "+639171234567",
		"+63 917 123 4567": "+639171234567",
	}
	for in, want := range valid {
		got, err := NormalizePH(in)
		if err != nil {
			t.Errorf("NormalizePH(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizePH(%q) = %q, want %q", in, got, want)
		}
	}

	invalid := []string{
		"",
		"0917123456",
		"091712345678",
		"08171234567",
		"+19171234567",
		"+09171234567",
		"0917abc4567",
		"63917123456",
		"9+171234567",
	}
	for _, in := range invalid {
		if got, err := NormalizePH(in); err == nil {
			t.Errorf("NormalizePH(%q) = %q, expected error", in, got)
		}
	}
}

func TestMaskPhone(t *testing.T) {
	if got := MaskPhone("+639171234567"); got != "*********4567" {
		t.Errorf("unexpected mask: %s", got)
	}
	if got := MaskPhone("12"); got != "****" {
		t.Errorf("unexpected mask for short input: %s", got)
	}
}
