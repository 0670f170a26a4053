//go:build integration

package repository

import "github.com/jackc/pgx/v5/pgxpool"

// IntegrationPool exposes the shared database to the external test package.
func IntegrationPool() *pgxpool.Pool { return testPool }

var CleanupAll = cleanupAll
