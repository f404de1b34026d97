package models

// All lists every persisted model, in dependency order, for SQLite schemas.
func All() []any {
	return []any{
		&Pool{},
		&PoolParticipant{},
		&SharedRun{},
		&DeliveryStop{},
		&SettlementRecord{},
		&LedgerEvent{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
