package models

// Event types pushed to session subscribers.
const (
	EventViolation = "violation"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventError     = "error"
)

type ProgressData struct {
	CurrentTime     float64 `json:"current_time"`
	TotalTime       float64 `json:"total_time"`
	Frame           int     `json:"frame"`
	ProgressPercent float64 `json:"progress_percent"`
}

type CompletedData struct {
	SessionID       string `json:"session_id"`
	ViolationsCount int    `json:"violations_count"`
}

type ErrorData struct {
	Error string `json:"error"`
}
