package main

import (
	"github.com/hibiken/asynq"

	"terminal-payment-backend/internal/config"
	"terminal-payment-backend/internal/infrastructure/events"
	"terminal-payment-backend/pkg/container"
)

// HandlerRegistry holds the worker's task handlers and, with the kafka
// events driver, the payment.completed consumer
type HandlerRegistry struct {
	container *container.Container
	consumer  *events.Consumer
}

func initializeHandlers(c *container.Container, cfg *Config) *HandlerRegistry {
	registry := &HandlerRegistry{container: c}

	// With kafka the automation event never becomes an asynq task, so the
	// worker reads the topic and runs the same receipt handler
	if c.Config.Events.Driver == config.EventsDriverKafka {
		registry.consumer = events.NewConsumer(
			c.Config.Events.KafkaBrokers,
			c.Config.Events.PaymentCompletedTop,
			cfg.ConsumerGroup,
			c.PaymentAutomationJob.Handle,
		)
	}

	return registry
}

// RegisterHandlers registers all handlers with the mux
func (h *HandlerRegistry) RegisterHandlers(mux *asynq.ServeMux) {
	h.container.RegisterJobHandlers(mux)
}
