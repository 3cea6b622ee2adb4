package policy

import "time"

// #region entry
// Entry is one stored policy statement with its embedding. Immutable once stored.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Name      string    `json:"name"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	seq       int64     // insertion order, breaks similarity ties
}

// #endregion entry

// #region retrieved
// Retrieved pairs an entry with its cosine similarity to a query, clamped to [0,1].
type Retrieved struct {
	Entry      Entry   `json:"entry"`
	Similarity float64 `json:"similarity"`
}

// #endregion retrieved
