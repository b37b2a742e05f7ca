package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261001-000000",
		Description: "Initial indexing schema",
		Up: []string{
			// Sites - one row per property a user tracks
			// user_id is a Clerk user ID (no FK constraint since users are in Clerk)
			`CREATE TABLE IF NOT EXISTS sites (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				domain TEXT NOT NULL,
				sitemap_url TEXT,
				google_enabled INTEGER NOT NULL DEFAULT 0,
				indexnow_enabled INTEGER NOT NULL DEFAULT 0,
				indexnow_key_encrypted TEXT,
				last_synced_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE(user_id, domain)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sites_user_id ON sites(user_id)`,

			// Tracked URLs - pages discovered through the site's sitemap
			`CREATE TABLE IF NOT EXISTS tracked_urls (
				id TEXT PRIMARY KEY,
				site_id TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
				url TEXT NOT NULL,
				coverage_state TEXT,
				index_status TEXT NOT NULL DEFAULT 'none',
				submission_method TEXT NOT NULL DEFAULT 'none',
				submitted_at TEXT,
				last_synced_at TEXT,
				http_status INTEGER,
				error_message TEXT,
				is_new INTEGER NOT NULL DEFAULT 0,
				is_changed INTEGER NOT NULL DEFAULT 0,
				is_removed INTEGER NOT NULL DEFAULT 0,
				retry_count INTEGER NOT NULL DEFAULT 0,
				last_modified TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE(site_id, url)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tracked_urls_site_status ON tracked_urls(site_id, index_status)`,

			// Activity log - append-only audit trail
			`CREATE TABLE IF NOT EXISTS activity_log (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				site_id TEXT REFERENCES sites(id) ON DELETE CASCADE,
				url_id TEXT REFERENCES tracked_urls(id) ON DELETE CASCADE,
				action TEXT NOT NULL,
				details TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_activity_log_user ON activity_log(user_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_activity_log_site ON activity_log(site_id, created_at)`,

			// Daily quota counters - absence of a row means zero usage
			`CREATE TABLE IF NOT EXISTS daily_quota_counters (
				user_id TEXT NOT NULL,
				day TEXT NOT NULL,
				submissions INTEGER NOT NULL DEFAULT 0,
				inspections INTEGER NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (user_id, day)
			)`,

			// Credit transactions - append-only ledger; balance = SUM(amount)
			`CREATE TABLE IF NOT EXISTS credit_transactions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				type TEXT NOT NULL,
				amount INTEGER NOT NULL,
				balance_after INTEGER NOT NULL,
				description TEXT,
				external_order_id TEXT UNIQUE,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id, created_at)`,

			// Daily reports - one per site per day, overwritten by later runs
			`CREATE TABLE IF NOT EXISTS daily_reports (
				id TEXT PRIMARY KEY,
				site_id TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
				report_date TEXT NOT NULL,
				new_count INTEGER NOT NULL DEFAULT 0,
				changed_count INTEGER NOT NULL DEFAULT 0,
				removed_count INTEGER NOT NULL DEFAULT 0,
				google_submitted INTEGER NOT NULL DEFAULT 0,
				google_failed INTEGER NOT NULL DEFAULT 0,
				google_rate_limited INTEGER NOT NULL DEFAULT 0,
				indexnow_submitted INTEGER NOT NULL DEFAULT 0,
				indexnow_failed INTEGER NOT NULL DEFAULT 0,
				dead_count INTEGER NOT NULL DEFAULT 0,
				indexed_count INTEGER NOT NULL DEFAULT 0,
				total_count INTEGER NOT NULL DEFAULT 0,
				credits_used INTEGER NOT NULL DEFAULT 0,
				credits_remaining INTEGER NOT NULL DEFAULT 0,
				details TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE(site_id, report_date)
			)`,
		},
	})
}
