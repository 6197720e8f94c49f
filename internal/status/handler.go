// internal/status/handler.go
package status

import (
	"encoding/json"
	"net/http"

	"github.com/rudrakshya/LIS/internal/device"
	"github.com/rudrakshya/LIS/internal/queue"
)

// Handler serves the status document as JSON.
func Handler(r *device.Registry, q *queue.Queue) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(Collect(r, q)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
