package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Features is the comma-separated feature list advertised on every response.
var Features = []string{"detections", "sources", "alerts", "query", "collector-config"}

// NewRouter constructs the management API routes.
func NewRouter(h *Handler, uiPath string) http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics
	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/detections", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListDetections(w, r)
		case http.MethodPost:
			h.CreateDetection(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/detections/", func(w http.ResponseWriter, r *http.Request) {
		id, ok := trimPathID(r.URL.Path, "/detections/")
		if !ok {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.GetDetection(w, r, id)
		case http.MethodPatch:
			h.PatchDetection(w, r, id)
		case http.MethodDelete:
			h.DeleteDetection(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/sources", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.ListSources(w, r)
	})

	mux.HandleFunc("/sources/", func(w http.ResponseWriter, r *http.Request) {
		id, ok := trimPathID(r.URL.Path, "/sources/")
		if !ok {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodPost:
			// POST /sources/{type} creates a source of that type
			h.CreateSource(w, r, id)
		case http.MethodGet:
			h.GetSource(w, r, id)
		case http.MethodPatch:
			h.PatchSource(w, r, id)
		case http.MethodDelete:
			h.DeleteSource(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.ListAlerts(w, r)
	})

	mux.HandleFunc("/alerts/", func(w http.ResponseWriter, r *http.Request) {
		id, ok := trimPathID(r.URL.Path, "/alerts/")
		if !ok || r.Method != http.MethodGet {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		h.GetAlert(w, r, id)
	})

	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.Query(w, r)
	})

	mux.HandleFunc("/collector-config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.CollectorConfig(w, r)
	})

	if uiPath != "" {
		mux.Handle("/ui/", http.StripPrefix("/ui/", http.FileServer(http.Dir(uiPath))))
	}

	return featureFlags(mux)
}

// featureFlags stamps the advertised feature list on every response.
func featureFlags(next http.Handler) http.Handler {
	flags := strings.Join(Features, ",")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Feature-Flag", flags)
		next.ServeHTTP(w, r)
	})
}
