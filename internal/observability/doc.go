// Package observability provides logging, metrics, and context helpers for
// the entity resolution service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "console",
//	    Output: "stderr",
//	})
//	logger = observability.WithEntityContext(logger, "author", "j. smith")
//
// Logs default to stderr; stdout belongs to interactive prompts.
//
// # Metrics
//
// Metrics are registered against an explicit registerer:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics("entity_resolution", reg)
//	metrics.RecordResolution("journal", "accepted", 0.93)
//
// # Standard Fields
//
//   - run_id: batch pipeline run identifier
//   - request_id: HTTP request identifier
//   - record_url: URL of the source record being resolved
//   - entity_type: author, affiliation, or journal
//   - entity_id: canonical entity identifier
//   - query: the raw name being resolved
package observability
