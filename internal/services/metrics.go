package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// submissions counts intake outcomes: ok, invalid, replayed, error.
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inscriptions_submitted_total",
			Help: "Submissions handled by the intake service, by outcome.",
		},
		[]string{"outcome"},
	)

	// decryptFallbacks counts listed rows whose email could not be decrypted
	// and was returned as stored. reason is "plaintext" for values without
	// the token prefix and "token" for prefixed values that failed to open.
	decryptFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inscriptions_email_decrypt_fallback_total",
			Help: "Listed emails returned as stored because decryption failed.",
		},
		[]string{"reason"},
	)

	// backupOps counts backup tool operations by op and outcome.
	backupOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inscriptions_backup_operations_total",
			Help: "Backup and restore operations, by op and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(submissions, decryptFallbacks, backupOps)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
