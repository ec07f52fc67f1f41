package scraper

import "context"

// FrameLog records what a scraper saw: raw frames, parsed events, frames no decoder
// understood and frames that failed to decode.
type FrameLog interface {
	Raw(payload string)
	Parsed(v any)
	Unknown(payload string)
	Failed(err error, payload string)
}

// NopFrameLog discards everything.
type NopFrameLog struct{}

func (NopFrameLog) Raw(string)           {}
func (NopFrameLog) Parsed(any)           {}
func (NopFrameLog) Unknown(string)       {}
func (NopFrameLog) Failed(error, string) {}

// Reporter receives recoverable errors raised after initialization. *Runner implements it.
type Reporter interface {
	ReportError(ctx context.Context, err error)
}
