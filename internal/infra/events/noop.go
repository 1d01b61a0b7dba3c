package events

import "context"

// Noop dipakai kalau redis tidak dikonfigurasi
type Noop struct{}

func (Noop) PublishAnalysisQueued(context.Context, string, string) error { return nil }
func (Noop) PublishTaskComplete(context.Context, string, string) error   { return nil }
