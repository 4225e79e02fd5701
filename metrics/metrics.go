// Package metrics exposes Prometheus instrumentation and the metrics HTTP
// server for the provisioning backend.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DirectoryPagesFetched counts roster pages fetched from the directory
	// provider, including retried pages only once on success.
	DirectoryPagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_directory_pages_fetched_total",
		Help: "Number of roster pages fetched from the directory provider",
	})

	// DirectoryFetchErrors counts directory requests that failed after the
	// retry budget was exhausted.
	DirectoryFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_directory_fetch_errors_total",
		Help: "Number of directory requests failed after retries",
	})

	// WatchRegistrationFailures counts best-effort watch-channel
	// registrations that returned an error.
	WatchRegistrationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_watch_registration_failures_total",
		Help: "Number of failed watch channel registrations",
	})

	// UsersProvisioned counts users inserted into the provisioning store.
	UsersProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_users_provisioned_total",
		Help: "Number of users provisioned",
	})

	// InvitesIssued counts invite codes issued.
	InvitesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_invites_issued_total",
		Help: "Number of invite codes issued",
	})

	// KeyPairsRotated counts key pair rotations.
	KeyPairsRotated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_key_pairs_rotated_total",
		Help: "Number of user key pairs rotated",
	})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr. The name is kept for
// compatibility with callers that tag the server per service.
func New(name, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
