package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261003-140000",
		Description: "Scheduled job run records",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS job_runs (
				job_name TEXT PRIMARY KEY,
				last_run_at TEXT NOT NULL,
				last_result TEXT NOT NULL,
				last_summary TEXT,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL
			)`,
		},
	})
}
