// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "kddetl/internal/storage/memory"
	_ "kddetl/internal/storage/mssql"
	_ "kddetl/internal/storage/postgres"
	_ "kddetl/internal/storage/sqlite"
)
