package network

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucaspoffo/Cosmos/internal/logging"
)

// Metrics — Prometheus-метрики сетевой подсистемы
type Metrics struct {
	Connections    prometheus.Counter
	ActiveSessions prometheus.Gauge
	MessagesIn     prometheus.Counter
	MessagesOut    prometheus.Counter
	PositionsIn    prometheus.Counter
	PositionsOut   prometheus.Counter
	DecodeErrors   prometheus.Counter
}

// NewMetrics создаёт и регистрирует метрики в глобальном регистре
func NewMetrics() *Metrics {
	m := &Metrics{
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmos", Subsystem: "network",
			Name: "connections_total",
			Help: "Общее число принятых подключений.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cosmos", Subsystem: "network",
			Name: "active_sessions",
			Help: "Число активных сессий.",
		}),
		MessagesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmos", Subsystem: "network",
			Name: "messages_in_total",
			Help: "Принято игровых сообщений.",
		}),
		MessagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmos", Subsystem: "network",
			Name: "messages_out_total",
			Help: "Отправлено игровых сообщений.",
		}),
		PositionsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmos", Subsystem: "network",
			Name: "positions_in_total",
			Help: "Принято UDP-пакетов позиций.",
		}),
		PositionsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmos", Subsystem: "network",
			Name: "positions_out_total",
			Help: "Отправлено UDP-пакетов позиций.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmos", Subsystem: "network",
			Name: "decode_errors_total",
			Help: "Ошибок декодирования входящих сообщений.",
		}),
	}

	prometheus.MustRegister(m.Connections, m.ActiveSessions, m.MessagesIn,
		m.MessagesOut, m.PositionsIn, m.PositionsOut, m.DecodeErrors)
	return m
}

// StartMetricsHTTP поднимает эндпоинт /metrics на указанном адресе.
// Метод неблокирующий.
func StartMetricsHTTP(addr string) {
	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
}
