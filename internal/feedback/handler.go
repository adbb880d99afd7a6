package feedback

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// maxBodySize bounds a feedback submission.
const maxBodySize = 16 << 10

// submission is the request body accepted by the handler.
type submission struct {
	SessionID string `json:"sessionId"`
	Language  string `json:"language"`
	Rating    int    `json:"rating"`
	Comments  string `json:"comments"`
}

// Handler returns an http.Handler that accepts feedback submissions and
// appends them to the store. Responds 204 on success.
func Handler(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sub submission
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&sub); err != nil {
			http.Error(w, "invalid feedback body", http.StatusBadRequest)
			return
		}
		if sub.Rating < 1 || sub.Rating > 5 {
			http.Error(w, "rating must be between 1 and 5", http.StatusBadRequest)
			return
		}

		rec := Record{
			SessionID: sub.SessionID,
			Language:  sub.Language,
			Rating:    sub.Rating,
			Comments:  sub.Comments,
		}
		if err := store.Save(rec); err != nil {
			slog.Error("feedback: save failed", "err", err)
			http.Error(w, "could not store feedback", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
