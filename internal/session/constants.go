package session

// DefaultHistorySize bounds a session's turn history.
const DefaultHistorySize = 100
