package models

import "encoding/json"

// SummaryDocument holds the seven named sections of a meeting summary.
// Every job that reaches persistence carries all seven fields as strings;
// a degraded document substitutes diagnostic text, never absent keys.
type SummaryDocument struct {
	MeetingName   string `json:"meetingName"`
	MeetingInfo   string `json:"meetingInfo"`
	Agenda        string `json:"agenda"`
	Discussion    string `json:"discussion"`
	ScheduleTasks string `json:"scheduleTasks"`
	SharedInfo    string `json:"sharedInfo"`
	OtherNotes    string `json:"otherNotes"`
}

// SummaryKeys lists the required JSON keys of a SummaryDocument, in
// section order.
var SummaryKeys = []string{
	"meetingName",
	"meetingInfo",
	"agenda",
	"discussion",
	"scheduleTasks",
	"sharedInfo",
	"otherNotes",
}

// DegradedSummary builds a well-formed document whose sections all carry
// the given diagnostic message.
func DegradedSummary(diag string) *SummaryDocument {
	return &SummaryDocument{
		MeetingName:   diag,
		MeetingInfo:   diag,
		Agenda:        diag,
		Discussion:    diag,
		ScheduleTasks: diag,
		SharedInfo:    diag,
		OtherNotes:    diag,
	}
}

// Encode renders the document as JSON for the job record.
func (d *SummaryDocument) Encode() string {
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}
