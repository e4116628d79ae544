package model

import "time"

// Outcome is the per-recipient result of one dispatch attempt.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
)

type ItemResult struct {
	MessageID         int64   `json:"messageId"`
	MemberID          *int64  `json:"memberId,omitempty"`
	Phone             string  `json:"phone,omitempty"`
	Outcome           Outcome `json:"outcome"`
	ProviderMessageID string  `json:"providerMessageId,omitempty"`
	Error             string  `json:"error,omitempty"`
}

type RunSummary struct {
	RunID      string       `json:"runId"`
	Job        string       `json:"job"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Skipped    bool         `json:"skipped,omitempty"`
	Messages   int          `json:"messages"`
	Sent       int          `json:"sent"`
	Failed     int          `json:"failed"`
	Ignored    int          `json:"ignored"`
	Results    []ItemResult `json:"results"`
}

func (s *RunSummary) Add(r ItemResult) {
	s.Results = append(s.Results, r)
	switch r.Outcome {
	case OutcomeSent:
		s.Sent++
	case OutcomeFailed:
		s.Failed++
	default:
		s.Ignored++
	}
}

func (s *RunSummary) Merge(o RunSummary) {
	s.Messages += o.Messages
	s.Sent += o.Sent
	s.Failed += o.Failed
	s.Ignored += o.Ignored
	s.Results = append(s.Results, o.Results...)
}
