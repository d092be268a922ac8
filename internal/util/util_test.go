package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{"unset uses default true", "", true, true},
		{"unset uses default false", "", false, false},
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"yes uppercase", "YES", false, true},
		{"on with spaces", " on ", false, true},
		{"false", "false", true, false},
		{"zero", "0", true, false},
		{"off", "off", true, false},
		{"garbage uses default", "maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" {
				t.Setenv("UTIL_TEST_BOOL", "")
			} else {
				t.Setenv("UTIL_TEST_BOOL", tt.value)
			}
			if got := ParseBoolEnv("UTIL_TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("UTIL_TEST_STRING", "")
	if got := EnvOrDefault("UTIL_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("EnvOrDefault() = %v, want fallback", got)
	}

	t.Setenv("UTIL_TEST_STRING", "value")
	if got := EnvOrDefault("UTIL_TEST_STRING", "fallback"); got != "value" {
		t.Errorf("EnvOrDefault() = %v, want value", got)
	}
}
