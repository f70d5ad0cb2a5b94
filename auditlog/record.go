package auditlog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout of Record.Date.
const DateLayout = "Monday, 2 January 2006, 15:04:05"

type Action string

const (
	ActionUploaded          Action = "Uploaded"
	ActionDeleted           Action = "Deleted"
	ActionDeletedAll        Action = "Deleted All"
	ActionLogin             Action = "Login"
	ActionLogout            Action = "Logout"
	ActionDownloadFailed    Action = "Download Failed"
	ActionRateLimitExceeded Action = "Rate Limit Exceeded"
)

// Device labels produced by ClassifyDevice.
const (
	DeviceWindows = "computer Windows"
	DeviceMacOS   = "computer macOS"
	DeviceAndroid = "Android"
	DeviceIOS     = "iOS"
	DeviceUnknown = "unknown device"
)

const (
	fieldSep    = " | "
	imageSep    = " | Image: "
	ipPrefix    = "IP: "
	devPrefix   = "Device: "
	actPrefix   = "Action: "
	unknownAddr = "unknown"
)

// ErrMalformed is returned by ParseLine for lines that don't follow the
// record layout.
var ErrMalformed = errors.New("malformed log line")

// Record is a single audit log entry.
type Record struct {
	Date      string `json:"date" db:"date"`
	IP        string `json:"ip" db:"ip"`
	Device    string `json:"device" db:"device"`
	Action    string `json:"action" db:"action"`
	ImageLink string `json:"imageLink" db:"image_link"`
}

// NewRecord stamps a record with t formatted in local time.
func NewRecord(t time.Time, ip, userAgent string, action Action, imageLink string) Record {
	if ip == "" {
		ip = unknownAddr
	}

	return Record{
		Date:      t.Local().Format(DateLayout),
		IP:        sanitize(ip),
		Device:    ClassifyDevice(userAgent),
		Action:    sanitize(string(action)),
		ImageLink: sanitize(imageLink),
	}
}

// ClassifyDevice maps a User-Agent to a coarse device label. The checks run
// in a fixed order, so an iPad UA mentioning "Mac" is reported as macOS.
func ClassifyDevice(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Windows"):
		return DeviceWindows
	case strings.Contains(userAgent, "Mac"):
		return DeviceMacOS
	case strings.Contains(userAgent, "Android"):
		return DeviceAndroid
	case strings.Contains(userAgent, "iPhone"), strings.Contains(userAgent, "iPad"):
		return DeviceIOS
	default:
		return DeviceUnknown
	}
}

// Line renders r in the persisted format, newline terminated.
func (r Record) Line() string {
	var b strings.Builder
	b.WriteString(sanitize(r.Date))
	b.WriteString(fieldSep + ipPrefix + sanitize(r.IP))
	b.WriteString(fieldSep + devPrefix + sanitize(r.Device))
	b.WriteString(fieldSep + actPrefix + sanitize(r.Action))
	if r.ImageLink != "" {
		b.WriteString(imageSep + sanitize(r.ImageLink))
	}
	b.WriteByte('\n')
	return b.String()
}

// ParseLine is the inverse of Record.Line. The trailing newline is optional.
func ParseLine(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")

	head, imageLink, _ := strings.Cut(line, imageSep)

	parts := strings.Split(head, fieldSep)
	if len(parts) != 4 {
		return Record{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformed, len(parts))
	}

	ip, ok1 := strings.CutPrefix(parts[1], ipPrefix)
	device, ok2 := strings.CutPrefix(parts[2], devPrefix)
	action, ok3 := strings.CutPrefix(parts[3], actPrefix)
	if !ok1 || !ok2 || !ok3 || parts[0] == "" {
		return Record{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	return Record{
		Date:      parts[0],
		IP:        ip,
		Device:    device,
		Action:    action,
		ImageLink: imageLink,
	}, nil
}

var sanitizer = strings.NewReplacer("|", "/", "\r\n", " ", "\n", " ", "\r", " ")

// sanitize keeps free-form values from breaking the line layout.
func sanitize(s string) string {
	return sanitizer.Replace(s)
}
