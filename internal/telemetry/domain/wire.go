package domain

import (
	"fmt"
	"time"

	ieddomain "ied-sentinel/internal/ied/domain"
)

// TimestampLayout is the collector's timestamp format, always in UTC.
const TimestampLayout = "Jan 02, 2006 15:04:05.000 UTC"

// Message is the frame summary the collector keeps per device.
type Message struct {
	T       string `json:"t"`
	StNum   uint32 `json:"stNum"`
	AllData string `json:"allData"`
}

// CollectorRequest is the JSON body posted to the bookkeeping collector.
// Latencies are milliseconds; -1 means not applicable.
type CollectorRequest struct {
	RecordID    string  `json:"recordId,omitempty"`
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	MessageType string  `json:"messageType"`
	Subject     string  `json:"subject,omitempty"`
	Message     Message `json:"message"`

	BookKeepingTime        float64 `json:"bookKeepingTime"`
	ValidationTime         float64 `json:"validationTime"`
	ActionToValidationTime float64 `json:"actionToValidationTime"`
	CorrectiveActionTime   float64 `json:"correctiveActionTime"`
	ProjectedDowntime      float64 `json:"projectedDowntime"`
	TotalDowntime          float64 `json:"totalDowntime"`
}

// ToRequest encodes r for the collector. bookkeepingLatency is the duration of the previous post, or NotApplicable.
func ToRequest(r Record, bookkeepingLatency time.Duration) CollectorRequest {
	return CollectorRequest{
		RecordID:    r.ID,
		ID:          r.DeviceID,
		Status:      r.Verdict.CollectorStatus(),
		MessageType: string(r.Kind),
		Subject:     r.SubjectID,
		Message: Message{
			T:       FormatTimestamp(r.PublishedAt),
			StNum:   r.StNum,
			AllData: r.Status.AllData(),
		},
		BookKeepingTime:        Millis(bookkeepingLatency),
		ValidationTime:         Millis(r.ValidationLatency),
		ActionToValidationTime: Millis(r.ActionToValidationLatency),
		CorrectiveActionTime:   Millis(r.CorrectiveActionLatency),
		ProjectedDowntime:      Millis(r.ProjectedDowntime),
		TotalDowntime:          Millis(r.ActualDowntime),
	}
}

// FromRequest decodes a collector request back into a Record. ID and CreatedAt are left to the caller.
func FromRequest(req CollectorRequest) (Record, error) {
	if req.ID == "" {
		return Record{}, fmt.Errorf("bookkeeping: id is required")
	}
	status, err := ieddomain.ParseStatus(req.Message.AllData)
	if err != nil {
		return Record{}, fmt.Errorf("bookkeeping: allData: %w", err)
	}
	verdict, err := parseCollectorStatus(req.Status)
	if err != nil {
		return Record{}, err
	}
	kind := KindStandard
	if req.MessageType == string(KindCorrective) {
		kind = KindCorrective
	}
	var published time.Time
	if req.Message.T != "" {
		published, err = time.Parse(TimestampLayout, req.Message.T)
		if err != nil {
			return Record{}, fmt.Errorf("bookkeeping: t: %w", err)
		}
	}
	return Record{
		ID:                        req.RecordID,
		DeviceID:                  req.ID,
		SubjectID:                 req.Subject,
		Kind:                      kind,
		Verdict:                   verdict,
		Status:                    status,
		StNum:                     req.Message.StNum,
		PublishedAt:               published,
		ValidationLatency:         FromMillis(req.ValidationTime),
		ActionToValidationLatency: FromMillis(req.ActionToValidationTime),
		CorrectiveActionLatency:   FromMillis(req.CorrectiveActionTime),
		ProjectedDowntime:         FromMillis(req.ProjectedDowntime),
		ActualDowntime:            FromMillis(req.TotalDowntime),
	}, nil
}

// FormatTimestamp renders t in the collector's layout.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// Millis converts d to fractional milliseconds, keeping NotApplicable as -1.
func Millis(d time.Duration) float64 {
	if d < 0 {
		return -1
	}
	return float64(d) / float64(time.Millisecond)
}

// FromMillis is the inverse of Millis: negative values become NotApplicable.
func FromMillis(ms float64) time.Duration {
	if ms < 0 {
		return NotApplicable
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func parseCollectorStatus(s string) (ieddomain.Verdict, error) {
	switch s {
	case "Valid":
		return ieddomain.VerdictValid, nil
	case "Invalid":
		return ieddomain.VerdictInvalid, nil
	case "Indeterminate":
		return ieddomain.VerdictIndeterminate, nil
	}
	return "", fmt.Errorf("bookkeeping: unknown status %q", s)
}
