package event

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// NormalizeSeverity maps a raw, source-specific severity token to the
// canonical Severity enum per the canonicalization table.
func NormalizeSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "low", "info":
		return SeverityLow
	case "2", "medium", "warn", "warning":
		return SeverityMedium
	case "3", "high", "error":
		return SeverityHigh
	case "4", "critical", "fatal":
		return SeverityCritical
	default:
		return SeverityLow
	}
}

// SeverityFromOsEventLevel maps a host OS event log level (1-5) to
// Severity, per §6: 1 Critical, 2 High, 3 Medium, 4/5 Low, else Medium.
func SeverityFromOsEventLevel(level int) Severity {
	switch level {
	case 1:
		return SeverityCritical
	case 2:
		return SeverityHigh
	case 3:
		return SeverityMedium
	case 4, 5:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// SeverityFromSyslogPriority maps pri%8 to Severity per §6.
func SeverityFromSyslogPriority(priMod8 int) Severity {
	switch {
	case priMod8 >= 0 && priMod8 <= 2:
		return SeverityCritical
	case priMod8 == 3:
		return SeverityHigh
	case priMod8 == 4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SeverityFromFileLogKeyword maps a line to Severity by the keywords it
// contains anywhere in the line (case-insensitive), per §6:
// ERROR/FATAL → High, WARN → Medium, else → Low.
func SeverityFromFileLogKeyword(line string) Severity {
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "ERROR"), strings.Contains(upper, "FATAL"):
		return SeverityHigh
	case strings.Contains(upper, "WARN"):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

const maxDescriptionCodePoints = 500

// ClampDescription trims text to at most 500 code points, appending an
// ellipsis when truncated.
func ClampDescription(text string) string {
	if utf8.RuneCountInString(text) <= maxDescriptionCodePoints {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxDescriptionCodePoints-1]) + "…"
}

// NormalizeIP parses text as an IPv4/IPv6 address and returns its
// canonical string form, or "" if text does not parse as an IP.
func NormalizeIP(text string) string {
	ip := net.ParseIP(strings.TrimSpace(text))
	if ip == nil {
		return ""
	}
	return ip.String()
}

var ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// ExtractIPs scans text for dotted-quad IPv4 addresses. The first match is
// the source IP, the second the destination IP; later matches are ignored.
// Extraction never fails — it simply finds zero, one, or two addresses.
func ExtractIPs(text string) (sourceIP, destinationIP string) {
	matches := ipPattern.FindAllString(text, 2)
	if len(matches) > 0 {
		if ip := NormalizeIP(matches[0]); ip != "" {
			sourceIP = ip
		}
	}
	if len(matches) > 1 {
		if ip := NormalizeIP(matches[1]); ip != "" {
			destinationIP = ip
		}
	}
	return sourceIP, destinationIP
}

var timestampLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
}

// ExtractTimestamp tries a fixed sequence of layouts — ISO-8601,
// "YYYY-MM-DD HH:MM:SS", "MM/DD/YYYY HH:MM:SS", then RFC3164's
// month-day-time — against the head of text. It never fails: a nil
// result tells the caller to fall back to receipt time.
func ExtractTimestamp(text string) *time.Time {
	text = strings.TrimSpace(text)
	fields := strings.Fields(text)
	for _, layout := range timestampLayouts {
		n := strings.Count(layout, " ") + 1
		if len(fields) < n {
			continue
		}
		if t, err := time.Parse(layout, strings.Join(fields[:n], " ")); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	if t := extractRFC3164Timestamp(text); t != nil {
		return t
	}
	return nil
}

var rfc3164Pattern = regexp.MustCompile(`^([A-Za-z]{3})\s+(\d{1,2})\s(\d{2}):(\d{2}):(\d{2})`)

// extractRFC3164Timestamp parses the classic syslog "Mmm dd hh:mm:ss"
// timestamp, assuming the current year since RFC3164 carries no year.
func extractRFC3164Timestamp(text string) *time.Time {
	m := rfc3164Pattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	month, err := time.Parse("Jan", m[1])
	if err != nil {
		return nil
	}
	day, _ := strconv.Atoi(m[2])
	hour, _ := strconv.Atoi(m[3])
	minute, _ := strconv.Atoi(m[4])
	second, _ := strconv.Atoi(m[5])
	now := time.Now().UTC()
	t := time.Date(now.Year(), month.Month(), day, hour, minute, second, 0, time.UTC)
	return &t
}

// SyslogHead is the result of parsing a syslog message body (with its
// leading <priority> already stripped) into its head fields, per the
// RFC3164/RFC5424 parse §4.3 requires.
type SyslogHead struct {
	Timestamp *time.Time
	Hostname  string
	Tag       string
	Message   string
}

var rfc3164HeadPattern = regexp.MustCompile(`^([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^:\[\s]+)(?:\[\d+\])?:\s?(.*)$`)

var rfc5424HeadPattern = regexp.MustCompile(`^(\d{1,2})\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(-|\[[^\]]*\](?:\[[^\]]*\])*)\s?(.*)$`)

// ParseSyslogHead tries RFC5424's structured head first, then RFC3164's
// "Mmm dd hh:mm:ss host tag[pid]: msg" form; when neither matches, the
// whole input is returned as Message with every other field empty.
func ParseSyslogHead(text string) SyslogHead {
	text = strings.TrimSpace(text)

	if m := rfc5424HeadPattern.FindStringSubmatch(text); m != nil {
		head := SyslogHead{Message: strings.TrimSpace(m[8])}
		if ts, err := time.Parse(time.RFC3339Nano, m[2]); err == nil {
			utc := ts.UTC()
			head.Timestamp = &utc
		} else if ts, err := time.Parse(time.RFC3339, m[2]); err == nil {
			utc := ts.UTC()
			head.Timestamp = &utc
		}
		if m[3] != "-" {
			head.Hostname = m[3]
		}
		if m[4] != "-" {
			head.Tag = m[4]
		}
		return head
	}

	if m := rfc3164HeadPattern.FindStringSubmatch(text); m != nil {
		return SyslogHead{
			Timestamp: extractRFC3164Timestamp(m[1]),
			Hostname:  m[2],
			Tag:       m[3],
			Message:   strings.TrimSpace(m[4]),
		}
	}

	return SyslogHead{Message: text}
}
