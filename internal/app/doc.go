// Package app composes the subscription engine.
//
// The Application type wires the ledger stores, the payment verifier, the
// entitlement resolver, the quota guard and the lifecycle reconciler, and owns
// the lifecycle-managed background services (the sweep scheduler).
//
//	internal/app/
//	├── application.go   # wiring and lifecycle
//	├── domain/          # tier, subscription and usage models
//	├── storage/         # store interfaces; memory, postgres and redis backends
//	├── services/        # verifier, resolver, quota, lifecycle, activation
//	├── notify/          # webhook and email senders
//	├── httpapi/         # HTTP handlers and routing
//	├── runtime/         # builds the daemon from configuration
//	├── system/          # service manager
//	└── metrics/         # Prometheus collectors
//
// Business rules live in services/. This package only composes them.
package app
