package writer

import "github.com/roman-kulish/plant-telemetry/internal/telemetry"

// Message is an item of the persistence queue: either a SampleMessage or Shutdown.
type Message interface {
	isMessage()
}

// SampleMessage carries one reading to be persisted
type SampleMessage struct {
	Reading telemetry.Reading
}

// Shutdown tells the writer to exit. Messages queued behind it are not written.
type Shutdown struct{}

func (SampleMessage) isMessage() {}

func (Shutdown) isMessage() {}
