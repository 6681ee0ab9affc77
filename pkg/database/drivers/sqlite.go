package drivers

import (
	// Export the modernc SQLite driver so binaries and storage tests can
	// opt in by importing this lightweight package instead of pulling the
	// dependency into every build.
	_ "modernc.org/sqlite"
)
