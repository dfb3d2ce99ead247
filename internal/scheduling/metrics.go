package scheduling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduling_bookings_total",
		Help: "Booking attempts by outcome.",
	}, []string{"outcome"})

	cancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduling_cancellations_total",
		Help: "Successful appointment cancellations.",
	})

	slotsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduling_slots_generated_total",
		Help: "Time slots materialized from configs.",
	})
)
