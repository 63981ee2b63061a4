package utils

import (
	"context"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		raw  string
		want *time.Time
	}{
		{"2026-03-05", &want},
		{"05/03/2026", &want},
		{"5/3/2026", &want},
		{"05/03/26", &want},
		{"2026-03-05T14:30:00Z", &want},
		{"05/03/2026 08:15:00", &want},
		{"  ", nil},
		{"-", nil},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.raw)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.raw, err)
		}
		if tc.want == nil {
			if got != nil {
				t.Fatalf("%q: expected nil, got %s", tc.raw, got)
			}
			continue
		}
		if got == nil || !got.Equal(*tc.want) {
			t.Fatalf("%q: expected %s, got %v", tc.raw, tc.want, got)
		}
	}

	if _, err := ParseDate("31/31/2026"); err == nil {
		t.Fatalf("expected an error for an impossible date")
	}
}

func TestTodayFromContext(t *testing.T) {
	pinned := time.Date(2026, 3, 1, 17, 45, 0, 0, time.UTC)
	ctx := SetTodayInContext(context.Background(), pinned)
	if got := TodayFromContext(ctx); !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected pinned date truncated, got %s", got)
	}
	if got := TodayFromContext(context.Background()); got.Hour() != 0 || got.Location() != time.UTC {
		t.Fatalf("expected a UTC date, got %s", got)
	}
}

func TestParseIdList(t *testing.T) {
	ids, err := ParseIdList(" 3, 1,,3 ")
	if err != nil {
		t.Fatalf("ParseIdList: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 1 {
		t.Fatalf("expected [3 1], got %v", ids)
	}
	if _, err := ParseIdList("1,x"); !IsValidationError(err, RuleRequired) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
