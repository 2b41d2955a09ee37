package models

// All lists every persisted model; tests use it for AutoMigrate.
func All() []any {
	return []any{
		&Store{},
		&Product{},
		&Order{},
		&OrderItem{},
		&DeliveryProof{},
		&DriverLocation{},
		&VendorPayout{},
		&PaymentEvent{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
