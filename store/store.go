// Package store provides persistence implementations for waitflow instances.
// The InstanceStore interface is defined in the root waitflow package
// (../store_interface.go) to avoid import cycles.
//
// This package contains concrete implementations:
//   - DynamoDBStore: AWS DynamoDB backend using conditional writes
//   - MemoryStore: In-memory backend for tests and single-process deployments
//
// Schema design follows the single-table pattern defined in schema.go.
package store
