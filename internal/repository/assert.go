package repository

import domrepo "SignalGate/internal/domain/repository"

var (
	_ domrepo.IndicatorProvider = (*HTTPIndicatorProvider)(nil)
	_ domrepo.IndicatorProvider = (*CHIndicatorProvider)(nil)
	_ domrepo.PositionProvider  = (*HTTPPositionProvider)(nil)
	_ domrepo.PositionProvider  = NoExposure{}
	_ domrepo.DecisionSink      = (*KafkaDecisionSink)(nil)
	_ domrepo.DecisionSink      = (*QueueDecisionSink)(nil)
	_ domrepo.DecisionSink      = (*LogDecisionSink)(nil)
	_ domrepo.AuditStore        = (*CHAuditStore)(nil)
	_ domrepo.AuditStore        = NopAuditStore{}
)
