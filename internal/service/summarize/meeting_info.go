package summarize

import (
	"regexp"
	"strings"
)

// MeetingInfo holds the structured fields parsed from the message text
// that accompanied the upload.
type MeetingInfo struct {
	Date       string
	Client     string
	Consultant string
}

const unknown = "不明"

var (
	datePattern       = regexp.MustCompile(`(\d{4}[年/\-]\d{1,2}[月/\-]\d{1,2}日?)`)
	clientPattern     = regexp.MustCompile(`(?:クライアント名?|顧客)[:：\s]*(\S+)`)
	consultantPattern = regexp.MustCompile(`(?:コンサルタント名?|担当)[:：\s]*(\S+)`)
)

// ExtractMeetingInfo pulls date, client and consultant names out of the
// free-form message text. Any field that does not match reports 不明
// rather than an error; missing metadata never blocks the pipeline.
func ExtractMeetingInfo(text string) MeetingInfo {
	info := MeetingInfo{Date: unknown, Client: unknown, Consultant: unknown}
	if strings.TrimSpace(text) == "" {
		return info
	}
	if m := datePattern.FindStringSubmatch(text); m != nil {
		info.Date = m[1]
	}
	if m := clientPattern.FindStringSubmatch(text); m != nil {
		info.Client = m[1]
	}
	if m := consultantPattern.FindStringSubmatch(text); m != nil {
		info.Consultant = m[1]
	}
	return info
}
