// Package queue carries reservation lifecycle events over RabbitMQ. The
// publisher is best effort: a broker outage never fails a reservation
// operation. The consumer appends every event to a log file.
package queue

import (
	"fmt"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/model"
)

// DefaultQueue is the durable queue reservation events are routed to.
const DefaultQueue = "reservation.events"

// FormatLogLine renders an event as one human-readable log line.
func FormatLogLine(ev model.ReservationEvent) string {
	line := fmt.Sprintf("[%s] %s | reservation_id=%s | outlet_id=%s | customer_id=%s | table_id=%s | party_size=%d | start=%s | end=%s",
		ev.OccurredAt.UTC().Format(time.RFC3339), ev.Type, ev.ReservationID, ev.OutletID, ev.CustomerID,
		ev.TableID, ev.PartySize, ev.Start.UTC().Format(time.RFC3339), ev.End.UTC().Format(time.RFC3339))
	if ev.PaymentID != "" {
		line += " | payment_id=" + ev.PaymentID
	}
	return line + "\n"
}
