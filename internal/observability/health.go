package observability

import (
	"context"
	"net/http"
	"time"
)

type Pinger interface {
	Get(ctx context.Context, path string) (any, error)
}

func HealthLiveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func HealthReadyHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := store.Get(ctx, "users"); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("store unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
