package drivers

import (
	// Register pgx's database/sql adapter under the "pgx" driver name.
	_ "github.com/jackc/pgx/v5/stdlib"
)
