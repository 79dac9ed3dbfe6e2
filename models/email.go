package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Column headers of a campaign worksheet. Lookup is by name, never by position.
const (
	ColumnName          = "Name"
	ColumnEmail         = "Email ID"
	ColumnSubject       = "Subject"
	ColumnMessage       = "Message"
	ColumnSchedule      = "Schedule Date & Time"
	ColumnStatus        = "Status"
	ColumnTimestamp     = "Timestamp"
	ColumnOpened        = "Open?"
	ColumnOpenTimestamp = "Open Timestamp"
)

// CampaignColumns lists every header a campaign worksheet must carry.
var CampaignColumns = []string{
	ColumnName,
	ColumnEmail,
	ColumnSubject,
	ColumnMessage,
	ColumnSchedule,
	ColumnStatus,
	ColumnTimestamp,
	ColumnOpened,
	ColumnOpenTimestamp,
}

// TimestampLayout is the layout used for every timestamp written back to the store.
const TimestampLayout = "02-01-2006 15:04:05"

// SendStatus is the decoded value of the Status column.
type SendStatus string

const (
	StatusUnset           SendStatus = ""
	StatusProcessing      SendStatus = "Processing"
	StatusSent            SendStatus = "Mail Sent Successfully"
	StatusFailed          SendStatus = "Failed to Send"
	StatusInvalidSchedule SendStatus = "Invalid Schedule"
	StatusExpired         SendStatus = "Skipped - Schedule Expired"
	StatusInterrupted     SendStatus = "Interrupted - Check Delivery"
)

// ParseSendStatus maps a raw Status cell onto a SendStatus. Unknown text is kept
// verbatim so that it is never mistaken for an unsent row.
func ParseSendStatus(raw string) SendStatus {
	s := strings.TrimSpace(raw)
	switch {
	case s == "", strings.EqualFold(s, "pending"):
		return StatusUnset
	case strings.EqualFold(s, string(StatusProcessing)):
		return StatusProcessing
	case strings.EqualFold(s, string(StatusSent)):
		return StatusSent
	case hasFoldPrefix(s, string(StatusFailed)):
		return StatusFailed
	case strings.EqualFold(s, string(StatusInvalidSchedule)):
		return StatusInvalidSchedule
	case strings.EqualFold(s, string(StatusExpired)):
		return StatusExpired
	case strings.EqualFold(s, string(StatusInterrupted)):
		return StatusInterrupted
	}
	return SendStatus(s)
}

const maxReasonBytes = 200

// FailedStatus renders the Status cell for a failed send with its reason.
func FailedStatus(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return string(StatusFailed)
	}
	if len(reason) > maxReasonBytes {
		cut := maxReasonBytes
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	return string(StatusFailed) + ": " + reason
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// OpenedYes is the Open? cell value of an opened row.
const OpenedYes = "Yes"

// IsOpened reports whether an Open? cell marks the row as opened.
func IsOpened(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), OpenedYes)
}

// CampaignRow is one recipient record of a batch.
type CampaignRow struct {
	Sheet       string `json:"sheet"`
	Row         int    `json:"row"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Subject     string `json:"subject"`
	Message     string `json:"message"`
	ScheduledAt string `json:"scheduled_at"`
	Status      string `json:"status"`
	SentAt      string `json:"sent_at"`
	Opened      string `json:"opened"`
	OpenedAt    string `json:"opened_at"`
}

// SendStatus returns the decoded Status column.
func (r *CampaignRow) SendStatus() SendStatus {
	return ParseSendStatus(r.Status)
}

// IsOpened reports whether the row has already been marked opened.
func (r *CampaignRow) IsOpened() bool {
	return IsOpened(r.Opened)
}

// FirstName returns the first word of Name, or "Friend" when Name is blank.
func (r *CampaignRow) FirstName() string {
	fields := strings.Fields(r.Name)
	if len(fields) == 0 {
		return "Friend"
	}
	return fields[0]
}

// SentTime parses SentAt in loc.
func (r *CampaignRow) SentTime(loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(r.SentAt)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimestampLayout, s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Get returns the value of the named column.
func (r *CampaignRow) Get(column string) string {
	switch column {
	case ColumnName:
		return r.Name
	case ColumnEmail:
		return r.Email
	case ColumnSubject:
		return r.Subject
	case ColumnMessage:
		return r.Message
	case ColumnSchedule:
		return r.ScheduledAt
	case ColumnStatus:
		return r.Status
	case ColumnTimestamp:
		return r.SentAt
	case ColumnOpened:
		return r.Opened
	case ColumnOpenTimestamp:
		return r.OpenedAt
	}
	return ""
}

// Set assigns the value of the named column. Unknown columns are ignored.
func (r *CampaignRow) Set(column, value string) {
	switch column {
	case ColumnName:
		r.Name = value
	case ColumnEmail:
		r.Email = value
	case ColumnSubject:
		r.Subject = value
	case ColumnMessage:
		r.Message = value
	case ColumnSchedule:
		r.ScheduledAt = value
	case ColumnStatus:
		r.Status = value
	case ColumnTimestamp:
		r.SentAt = value
	case ColumnOpened:
		r.Opened = value
	case ColumnOpenTimestamp:
		r.OpenedAt = value
	}
}

// RowUpdate is a set of cell writes for a single row, keyed by column header.
type RowUpdate struct {
	Row   int
	Cells map[string]string
}

// Batch is a named group of rows sharing one sender identity.
type Batch struct {
	Sheet        string
	SenderEmail  string
	SenderName   string
	SMTPHost     string
	SMTPPort     int
	SMTPSecurity string
	IMAPHost     string
	IMAPPort     int
	Password     string
	Timezone     *time.Location
}
