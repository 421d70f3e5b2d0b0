package repositories

import "context"

// Repository aggregates every repository used by the attempt service
type Repository interface {
	// Read-only catalog
	Catalog() CatalogRepository

	// Attempt domain
	Attempt() AttemptRepository
	Answer() AnswerRepository

	// User directory (read-only, external)
	User() UserRepository

	// Transaction support. Repositories handed to fn are bound to the transaction.
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	// Initialize repositories with database connections
	Initialize() error

	// Get repository instance
	GetRepository() Repository

	// Health check for all repositories
	HealthCheck(ctx context.Context) error

	// Graceful shutdown
	Shutdown(ctx context.Context) error
}
