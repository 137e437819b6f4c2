package app

import (
	"github.com/vladislavdragonenkov/wms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/wms/internal/service/fulfillment"
)

// createOrchestrator создаёт оркестратор фулфилмента с или без Kafka
// в зависимости от наличия producer.
func createOrchestrator(
	deps *Dependencies,
	kafkaProducer *kafka.Producer,
) fulfillment.Orchestrator {
	if kafkaProducer != nil {
		return fulfillment.NewOrchestratorWithKafka(
			deps.Orders,
			deps.Inventory,
			deps.Shipments,
			deps.Outbox,
			deps.Timeline,
			kafkaProducer,
			deps.Logger,
		)
	}

	return fulfillment.NewOrchestrator(
		deps.Orders,
		deps.Inventory,
		deps.Shipments,
		deps.Outbox,
		deps.Timeline,
		deps.Logger,
	)
}
