// Package metrics holds the Prometheus instruments for the attendance flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CodesIssued counts codes minted by the issuer.
	CodesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_codes_issued_total",
		Help: "Attendance codes minted.",
	})

	// CodeValidations counts validation attempts by result (ok, rejected).
	CodeValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_code_validations_total",
		Help: "Code validation attempts.",
	}, []string{"result"})

	// RecordsMarked counts attendance records by method (code, manual, excused).
	RecordsMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_attendance_records_total",
		Help: "Attendance records written.",
	}, []string{"method"})
)
