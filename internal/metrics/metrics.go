package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dnsbot"

type Metrics struct {
	registry *prometheus.Registry

	Commands          *prometheus.CounterVec
	CommandErrors     *prometheus.CounterVec
	TicketsCreated    prometheus.Counter
	TicketsClosed     prometheus.Counter
	TicketDuplicates  prometheus.Counter
	TranscriptErrors  prometheus.Counter
	DeliveryFailures  prometheus.Counter
	OpenTickets       prometheus.Gauge
	LogSinkDropped    prometheus.Counter
	CooldownRejection *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Slash commands and components handled, by name.",
		}, []string{"command"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_errors_total",
			Help:      "Commands that ended with an error reply, by name.",
		}, []string{"command"}),
		TicketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "created_total",
			Help:      "Ticket channels created.",
		}),
		TicketsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "closed_total",
			Help:      "Ticket channels closed.",
		}),
		TicketDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "duplicates_total",
			Help:      "Create requests refused because the user already has a ticket.",
		}),
		TranscriptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "transcript_errors_total",
			Help:      "Closures whose transcript could not be fully written.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "delivery_failures_total",
			Help:      "Transcripts that could not be sent to the recipient.",
		}),
		OpenTickets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "open",
			Help:      "Tickets currently tracked.",
		}),
		LogSinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logsink",
			Name:      "dropped_total",
			Help:      "Log entries dropped because the sink queue was full.",
		}),
		CooldownRejection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cooldown_rejections_total",
			Help:      "Requests refused by the per-user cooldown, by command.",
		}, []string{"command"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Commands,
		m.CommandErrors,
		m.TicketsCreated,
		m.TicketsClosed,
		m.TicketDuplicates,
		m.TranscriptErrors,
		m.DeliveryFailures,
		m.OpenTickets,
		m.LogSinkDropped,
		m.CooldownRejection,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
