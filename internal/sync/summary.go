package sync

import "time"

// RunSummary accounts for one scheduler cycle. Published on the bus as
// "run.completed" and printed by the one-shot sync command.
type RunSummary struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	Channels []ChannelResult

	Synced  int
	Partial int
	Failed  int
	Skipped int
	Pages   int
	Records int
}

func (s *RunSummary) add(res ChannelResult) {
	s.Channels = append(s.Channels, res)
	s.Pages += res.Pages
	s.Records += res.Records
	switch res.Outcome {
	case OutcomeDone:
		s.Synced++
	case OutcomePartial:
		s.Partial++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	}
}
