package auditlog

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{ua: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", want: DeviceWindows},
		{ua: "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)", want: DeviceMacOS},
		{ua: "Mozilla/5.0 (Linux; Android 14; Pixel 8)", want: DeviceAndroid},
		{ua: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)", want: DeviceIOS},
		{ua: "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", want: DeviceMacOS},
		{ua: "curl/8.5.0", want: DeviceUnknown},
		{ua: "", want: DeviceUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.ua, func(t *testing.T) {
			if got := ClassifyDevice(tt.ua); got != tt.want {
				t.Errorf("ClassifyDevice(%q) = %q, want %q", tt.ua, got, tt.want)
			}
		})
	}
}

func TestNewRecord(t *testing.T) {
	ts := time.Date(2024, time.June, 3, 9, 5, 7, 0, time.Local)

	r := NewRecord(ts, "", "Windows", ActionLogin, "")
	if r.Date != "Monday, 3 June 2024, 09:05:07" {
		t.Errorf("Date = %q", r.Date)
	}
	if r.IP != "unknown" {
		t.Errorf("IP = %q, want unknown", r.IP)
	}
	if r.Device != DeviceWindows || r.Action != "Login" {
		t.Errorf("NewRecord() = %+v", r)
	}
}

func TestRecord_Line(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{
			name: "with image",
			rec:  Record{Date: "Monday, 3 June 2024, 09:05:07", IP: "10.0.0.1", Device: "iOS", Action: "Uploaded", ImageLink: "/pictures/abc"},
			want: "Monday, 3 June 2024, 09:05:07 | IP: 10.0.0.1 | Device: iOS | Action: Uploaded | Image: /pictures/abc\n",
		},
		{
			name: "without image",
			rec:  Record{Date: "Monday, 3 June 2024, 09:05:07", IP: "::1", Device: "unknown device", Action: "Logout"},
			want: "Monday, 3 June 2024, 09:05:07 | IP: ::1 | Device: unknown device | Action: Logout\n",
		},
		{
			name: "delimiters sanitized",
			rec:  Record{Date: "d", IP: "1.2.3.4 | x", Device: "a\nb", Action: "Login"},
			want: "d | IP: 1.2.3.4 / x | Device: a b | Action: Login\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Line(); got != tt.want {
				t.Errorf("Line() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLine(t *testing.T) {
	want := Record{Date: "Monday, 3 June 2024, 09:05:07", IP: "10.0.0.1", Device: "iOS", Action: "Deleted All"}
	got, err := ParseLine(want.Line())
	if err != nil {
		t.Fatalf("ParseLine() error = %v", err)
	}
	if got != want {
		t.Errorf("ParseLine() = %+v, want %+v", got, want)
	}

	want.ImageLink = "/pictures/0123456789abcdef"
	got, err = ParseLine(want.Line())
	if err != nil {
		t.Fatalf("ParseLine() error = %v", err)
	}
	if got != want {
		t.Errorf("ParseLine() = %+v, want %+v", got, want)
	}
}

func TestParseLine_malformed(t *testing.T) {
	tests := []string{
		"garbage",
		"date | IP: x | Device: y",
		"date | IP x | Device: y | Action: z",
		" | IP: x | Device: y | Action: z",
		"date | IP: x | Device: y | Action: z | extra",
	}

	for _, line := range tests {
		if _, err := ParseLine(line); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseLine(%q) error = %v, want ErrMalformed", line, err)
		}
	}
}
