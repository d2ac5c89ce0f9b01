package models

// Stored sentinel codes for abnormal terminal states. The import_progress
// column overloads a percentage with these two values; ImportState keeps the
// column layout for compatibility while giving callers a tagged type.
const (
	storedFailed    = -1
	storedTruncated = -2
)

// ImportStatus enumerates the import state machine.
type ImportStatus int

const (
	ImportNotStarted ImportStatus = iota
	ImportRunning
	ImportCompleted
	ImportFailed
	ImportTruncated
)

// ImportState is the import state of a wallet: a status tag plus the
// percentage that is only meaningful while running.
type ImportState struct {
	Status  ImportStatus
	Percent int
}

// ImportStateFromStored decodes the legacy integer column.
func ImportStateFromStored(code int) ImportState {
	switch {
	case code == storedFailed:
		return ImportState{Status: ImportFailed}
	case code == storedTruncated:
		return ImportState{Status: ImportTruncated}
	case code >= 100:
		return ImportState{Status: ImportCompleted, Percent: 100}
	case code <= 0:
		return ImportState{Status: ImportNotStarted}
	default:
		return ImportState{Status: ImportRunning, Percent: code}
	}
}

// StoredProgress encodes the state back into the integer column.
func (s ImportState) StoredProgress() int {
	switch s.Status {
	case ImportFailed:
		return storedFailed
	case ImportTruncated:
		return storedTruncated
	case ImportCompleted:
		return 100
	case ImportNotStarted:
		return 0
	default:
		if s.Percent > 99 {
			return 99
		}
		if s.Percent < 0 {
			return 0
		}
		return s.Percent
	}
}

// Label is the human-readable form shown in wallet listings.
func (s ImportState) Label() string {
	switch s.Status {
	case ImportFailed:
		return "Error"
	case ImportTruncated:
		return "Truncated"
	case ImportCompleted:
		return "Completed"
	case ImportNotStarted:
		return "Not started"
	default:
		return "Running"
	}
}
