package schema_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maxatome/go-testdeep/td"

	"github.com/schemapack/schemapack/schema"
)

func TestParseDateTime(t *testing.T) {
	testCases := []struct {
		in     string
		want   time.Time
		hasOff bool
	}{
		{"2023-05-17T12:34:56Z", time.Date(2023, 5, 17, 12, 34, 56, 0, time.UTC), true},
		{"2023-05-17T12:34:56", time.Date(2023, 5, 17, 12, 34, 56, 0, time.UTC), false},
		{"2023-05-17T12:34:56.5Z", time.Date(2023, 5, 17, 12, 34, 56, 500000000, time.UTC), true},
		{"2023-05-17t12:34:56z", time.Date(2023, 5, 17, 12, 34, 56, 0, time.UTC), true},
		{"2023-05-17 12:34:56Z", time.Date(2023, 5, 17, 12, 34, 56, 0, time.UTC), true},
		// offsets normalize to UTC
		{"2023-05-17T12:34:56+01:30", time.Date(2023, 5, 17, 11, 4, 56, 0, time.UTC), true},
		{"2023-05-17T00:30:00-02:00", time.Date(2023, 5, 17, 2, 30, 0, 0, time.UTC), true},
		// the seventh fractional digit rounds half-up into microseconds
		{"2023-05-17T12:34:56.7894567+01:30", time.Date(2023, 5, 17, 11, 4, 56, 789457000, time.UTC), true},
		{"2023-05-17T12:34:56.9999999Z", time.Date(2023, 5, 17, 12, 34, 57, 0, time.UTC), true},
		{"2024-02-29T00:00:00Z", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), true},
	}

	for _, tC := range testCases {
		t.Run(tC.in, func(t *testing.T) {
			got, hasOff, msg := schema.ParseDateTime(tC.in)
			if msg != "" {
				t.Fatal(msg)
			}
			if !got.Equal(tC.want) {
				t.Fatalf("wanted %v, got %v", tC.want, got)
			}
			td.Cmp(t, hasOff, tC.hasOff)
		})
	}
}

func TestParseDateTimeInvalid(t *testing.T) {
	testCases := []string{
		"",
		"2023-05-17",
		"2023-13-01T00:00:00Z",
		"2023-02-29T00:00:00Z",
		"2023-05-17T24:00:00Z",
		"2023-05-17T12:60:00Z",
		"2023-05-17T12:34:56.Z",
		"2023-05-17T12:34:56+1:30",
		"2023-05-17T12:34:56+01:3",
		"0000-01-01T00:00:00Z",
	}

	for _, tC := range testCases {
		t.Run(tC, func(t *testing.T) {
			if _, _, msg := schema.ParseDateTime(tC); msg == "" {
				t.Fatalf("%q was accepted", tC)
			}
		})
	}
}

func TestDateTimeRoundTrip(t *testing.T) {
	testCases := []string{
		"2023-05-17T12:34:56Z",
		"2023-05-17T12:34:56.000001Z",
		"2023-05-17T12:34:56.789457Z",
		"0001-01-01T00:00:00Z",
		"9999-12-31T23:59:59.999999Z",
	}

	for _, tC := range testCases {
		t.Run(tC, func(t *testing.T) {
			v, _, msg := schema.ParseDateTime(tC)
			if msg != "" {
				t.Fatal(msg)
			}
			out, msg := schema.AppendDateTime(nil, v)
			if msg != "" {
				t.Fatal(msg)
			}
			if string(out) != tC {
				t.Fatalf("wanted %q, got %q", tC, out)
			}
		})
	}
}

func TestAppendDateTimeOffset(t *testing.T) {
	loc := time.FixedZone("", 90*60)
	v := time.Date(2023, 5, 17, 12, 34, 56, 0, loc)
	out, msg := schema.AppendDateTime(nil, v)
	if msg != "" {
		t.Fatal(msg)
	}
	td.Cmp(t, string(out), "2023-05-17T12:34:56+01:30")

	// offsets that are not whole minutes round to the nearest minute
	odd := time.FixedZone("", 90*60+29)
	out, msg = schema.AppendDateTime(nil, time.Date(2023, 5, 17, 12, 34, 56, 0, odd))
	if msg != "" {
		t.Fatal(msg)
	}
	td.Cmp(t, string(out), "2023-05-17T12:34:56+01:30")
}

func TestParseDate(t *testing.T) {
	d, msg := schema.ParseDate("2023-05-17")
	if msg != "" {
		t.Fatal(msg)
	}
	td.Cmp(t, d, schema.Date{Year: 2023, Month: time.May, Day: 17})

	for _, bad := range []string{"2023-5-17", "2023-05-17T", "2023-02-30", "2023-00-01", ""} {
		if _, msg := schema.ParseDate(bad); msg == "" {
			t.Fatalf("%q was accepted", bad)
		}
	}

	out, msg := schema.AppendDate(nil, d)
	if msg != "" {
		t.Fatal(msg)
	}
	td.Cmp(t, string(out), "2023-05-17")
}

func TestParseTimeOfDay(t *testing.T) {
	testCases := []struct {
		in   string
		want schema.TimeOfDay
	}{
		{"12:34:56", schema.TimeOfDay{Hour: 12, Minute: 34, Second: 56}},
		{"00:00:00", schema.TimeOfDay{}},
		{"12:34:56.25", schema.TimeOfDay{Hour: 12, Minute: 34, Second: 56, Microsecond: 250000}},
		{"12:34:56Z", schema.TimeOfDay{Hour: 12, Minute: 34, Second: 56, HasOffset: true}},
		{"12:34:56+01:30", schema.TimeOfDay{Hour: 12, Minute: 34, Second: 56, Offset: 90, HasOffset: true}},
		{"23:59:59.9999999", schema.TimeOfDay{}}, // rounds up and carries through midnight
	}

	for _, tC := range testCases {
		t.Run(tC.in, func(t *testing.T) {
			got, msg := schema.ParseTimeOfDay(tC.in)
			if msg != "" {
				t.Fatal(msg)
			}
			td.Cmp(t, got, tC.want)
		})
	}

	for _, bad := range []string{"24:00:00", "12:60:00", "12:34", "12:34:56.", ""} {
		if _, msg := schema.ParseTimeOfDay(bad); msg == "" {
			t.Fatalf("%q was accepted", bad)
		}
	}
}

func TestAppendTimeOfDay(t *testing.T) {
	testCases := []struct {
		v    schema.TimeOfDay
		want string
	}{
		{schema.TimeOfDay{Hour: 12, Minute: 34, Second: 56}, "12:34:56"},
		{schema.TimeOfDay{Hour: 1, Minute: 2, Second: 3, Microsecond: 250000}, "01:02:03.25"},
		{schema.TimeOfDay{Hour: 1, Microsecond: 1}, "01:00:00.000001"},
		{schema.TimeOfDay{HasOffset: true}, "00:00:00Z"},
		{schema.TimeOfDay{Offset: -330, HasOffset: true}, "00:00:00-05:30"},
	}

	for _, tC := range testCases {
		t.Run(tC.want, func(t *testing.T) {
			out, msg := schema.AppendTimeOfDay(nil, tC.v)
			if msg != "" {
				t.Fatal(msg)
			}
			if string(out) != tC.want {
				t.Fatalf("wanted %q, got %q", tC.want, out)
			}
		})
	}
}

func TestParseUUID(t *testing.T) {
	in := "f47ac10b-58cc-4372-a567-0e02b2c3d479"
	u, ok := schema.ParseUUID(in)
	if !ok {
		t.Fatalf("%q was rejected", in)
	}
	td.Cmp(t, string(schema.AppendUUID(nil, u)), in)

	upper, ok := schema.ParseUUID("F47AC10B-58CC-4372-A567-0E02B2C3D479")
	if !ok {
		t.Fatal("uppercase digits were rejected")
	}
	td.Cmp(t, upper, u)

	bad := []string{
		"",
		"f47ac10b58cc4372a5670e02b2c3d479",
		"f47ac10b-58cc-4372-a567-0e02b2c3d47",
		"f47ac10b-58cc-4372-a567-0e02b2c3d4790",
		"g47ac10b-58cc-4372-a567-0e02b2c3d479",
		"f47ac10b_58cc_4372_a567_0e02b2c3d479",
	}
	for _, tC := range bad {
		if _, ok := schema.ParseUUID(tC); ok {
			t.Fatalf("%q was accepted", tC)
		}
	}

	var zero uuid.UUID
	td.Cmp(t, string(schema.AppendUUID(nil, zero)), "00000000-0000-0000-0000-000000000000")
}
