package telemetry

import (
	"crypto/md5"
	"fmt"
	"os"
	"time"
)

// SessionInfo ties records from one CLI session together. It is detected once
// when the Recorder is constructed, never per call.
type SessionInfo struct {
	SessionID string
	UserID    string
}

// DetectSession reads session identity from the host agent's environment,
// falling back to an hour-bucketed hash of user + working directory so calls
// from the same shell session within the hour share a pseudo-session id.
func DetectSession() SessionInfo {
	userID := os.Getenv("CLAUDE_USER_ID")
	if userID == "" {
		userID = os.Getenv("USER")
	}
	if userID == "" {
		userID = "unknown"
	}

	sessionID := os.Getenv("CLAUDE_SESSION_ID")
	if sessionID == "" {
		cwd, _ := os.Getwd()
		bucket := time.Now().Unix() / 3600
		sum := md5.Sum([]byte(fmt.Sprintf("%s-%s-%d", userID, cwd, bucket)))
		sessionID = fmt.Sprintf("env-%x", sum[:4])
	}

	return SessionInfo{SessionID: sessionID, UserID: userID}
}
