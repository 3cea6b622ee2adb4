package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
)

// #region decision-log
// DecisionLog writes one JSON line per verification. A nil *DecisionLog discards.
type DecisionLog struct {
	out *log.Logger
}

// NewDecisionLog writes entries to w. A nil writer yields a nil log.
func NewDecisionLog(w io.Writer) *DecisionLog {
	if w == nil {
		return nil
	}
	return &DecisionLog{out: log.New(w, "", 0)}
}

// LogDecision writes entry as a single JSON line.
func (d *DecisionLog) LogDecision(entry DecisionEntry) error {
	if d == nil {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PolicyIDs == nil {
		entry.PolicyIDs = []string{}
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	d.out.Print(string(b))
	return nil
}

// #endregion decision-log

// #region helpers
// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return uuid.New().String()
}

// HashPrompt returns a short stable fingerprint so decisions can be correlated
// without recording prompt text.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:8])
}

// #endregion helpers
