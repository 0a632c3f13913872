package model

import "time"

// ProgressEvent is a snapshot of a session published to subscribers after each
// accepted transition.
type ProgressEvent struct {
	SessionID       string    `json:"sessionId"`
	Status          string    `json:"status"`
	Phase           Phase     `json:"phase"`
	PercentComplete int       `json:"percentComplete"`
	TrackID         string    `json:"trackId,omitempty"`
	TrackTitle      string    `json:"trackTitle,omitempty"`
	ArtworkURL      string    `json:"artworkUrl,omitempty"`
	StreamingURL    string    `json:"streamingUrl,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	At              time.Time `json:"at"`
}

// Terminal reports whether the event closes the session's stream.
func (e ProgressEvent) Terminal() bool {
	return e.Status == SessionStatusCompleted || e.Status == SessionStatusFailed
}

// EventFromSession builds the event for the current state of s.
func EventFromSession(s *GenerationSession) ProgressEvent {
	return ProgressEvent{
		SessionID:       s.ID,
		Status:          s.Status,
		Phase:           s.Phase,
		PercentComplete: s.PercentComplete,
		TrackID:         s.TrackID,
		TrackTitle:      s.TrackTitle,
		ArtworkURL:      s.ArtworkURL,
		StreamingURL:    s.StreamingURL,
		ErrorMessage:    s.ErrorMessage,
		At:              time.Now(),
	}
}
