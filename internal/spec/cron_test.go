package spec

import (
	"errors"
	"testing"
)

func TestCanonicalizeCron(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"0 0 * * * ?", "0 0 * * * ?"},
		{"0 0 * * * *", "0 0 * * * ?"},
		{"*/5 * * * *", "0 */5 * * * ?"},
		{"  0   30  9 * * mon-fri ", "0 30 9 ? * MON-FRI"},
		{"0 0 12 15 * *", "0 0 12 15 * ?"},
		{"0 0 12 ? jan *", "0 0 12 * JAN ?"},
		{"0 0 0 * * ? *", "0 0 0 * * ?"},
		{"@daily", "0 0 0 * * ?"},
		{"@WEEKLY", "0 0 0 ? * SUN"},
		{"@hourly", "0 0 * * * ?"},
	}
	for _, tc := range cases {
		got, err := CanonicalizeCron(tc.in)
		if err != nil {
			t.Fatalf("CanonicalizeCron(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("CanonicalizeCron(%q)=%q want %q", tc.in, got, tc.want)
		}
		again, err := CanonicalizeCron(got)
		if err != nil || again != got {
			t.Fatalf("not idempotent: %q -> %q (%v)", got, again, err)
		}
	}
}

func TestCanonicalizeCronRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"@every 5m",
		"@sometimes",
		"* * *",
		"0 0 0 * * ? 2030",
		"61 * * * * ?",
		"0 0 25 * * ?",
		"a b c d e f",
	} {
		if _, err := CanonicalizeCron(in); !errors.Is(err, ErrInvalidCron) {
			t.Fatalf("CanonicalizeCron(%q) err=%v want ErrInvalidCron", in, err)
		}
	}
}

func TestSetCronExpression(t *testing.T) {
	t.Parallel()

	s, err := NewImplSpec(7, "gold-index", "0 0 * * * *", true, true)
	if err != nil {
		t.Fatalf("NewImplSpec: %v", err)
	}
	if c, ok := s.CronExpression(); !ok || c != "0 0 * * * ?" {
		t.Fatalf("cron=%q ok=%v", c, ok)
	}

	if err := s.SetCronExpression("not a cron"); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
	if c, _ := s.CronExpression(); c != "0 0 * * * ?" {
		t.Fatalf("invalid input replaced cron: %q", c)
	}

	if err := s.SetCronExpression(""); err != nil {
		t.Fatalf("empty cron: %v", err)
	}
	if _, ok := s.CronExpression(); ok {
		t.Fatalf("empty input should clear cron")
	}
}

func TestParseCron(t *testing.T) {
	t.Parallel()

	if _, err := ParseCron("0 0 * * * ?"); err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	if _, err := ParseCron("0 0 * * *"); !errors.Is(err, ErrInvalidCron) {
		t.Fatalf("five fields should not parse as canonical: %v", err)
	}
}
