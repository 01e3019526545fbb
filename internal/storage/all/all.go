// Package all registers every storage backend and the SQL Server driver.
// Import it for side effects from main.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "linegroup/internal/storage/mssql"
	_ "linegroup/internal/storage/postgres"
	_ "linegroup/internal/storage/sqlite"
)
