package database

// Migration is one versioned schema step.
type Migration struct {
	Version int
	SQL     string
}

var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			-- Accounts
			CREATE TABLE accounts (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL UNIQUE,
				provider TEXT NOT NULL,
				settings TEXT NOT NULL DEFAULT '{}',
				last_sync DATETIME,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			-- Messages (canonical local copies)
			CREATE TABLE messages (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				thread_id TEXT NOT NULL DEFAULT '',
				subject TEXT NOT NULL DEFAULT '',
				from_addr TEXT NOT NULL DEFAULT '',
				to_addrs TEXT NOT NULL DEFAULT '[]',
				date DATETIME NOT NULL,
				snippet TEXT NOT NULL DEFAULT '',
				is_unread INTEGER NOT NULL DEFAULT 1,
				labels TEXT NOT NULL DEFAULT '[]',
				folder TEXT NOT NULL DEFAULT 'inbox',
				original_folder TEXT,
				provider_folder TEXT NOT NULL DEFAULT '',
				body_text TEXT,
				body_html TEXT,
				has_attachments INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_messages_account_date ON messages(account_id, date DESC);
			CREATE INDEX idx_messages_folder ON messages(folder);
			CREATE INDEX idx_messages_unread ON messages(is_unread);
			CREATE INDEX idx_messages_thread ON messages(thread_id);

			-- Classifications (one per message)
			CREATE TABLE classifications (
				message_id TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
				tags TEXT NOT NULL DEFAULT '[]',
				priority TEXT NOT NULL DEFAULT 'normal',
				action_required INTEGER NOT NULL DEFAULT 0,
				can_archive INTEGER NOT NULL DEFAULT 0,
				model_name TEXT NOT NULL DEFAULT '',
				confidence REAL NOT NULL DEFAULT 0,
				classified_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			-- Feedback (append-only corrections; survives message deletion)
			CREATE TABLE feedback (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				message_id TEXT NOT NULL DEFAULT '',
				sender_domain TEXT NOT NULL DEFAULT '',
				subject_pattern TEXT NOT NULL DEFAULT '',
				original_tags TEXT NOT NULL DEFAULT '[]',
				corrected_tags TEXT NOT NULL DEFAULT '[]',
				context TEXT NOT NULL DEFAULT '',
				corrected_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				use_count INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX idx_feedback_account_domain ON feedback(account_id, sender_domain);
			CREATE INDEX idx_feedback_corrected_at ON feedback(corrected_at);

			-- Drafts
			CREATE TABLE drafts (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				to_addrs TEXT NOT NULL DEFAULT '[]',
				cc_addrs TEXT NOT NULL DEFAULT '[]',
				bcc_addrs TEXT NOT NULL DEFAULT '[]',
				subject TEXT NOT NULL DEFAULT '',
				body_text TEXT,
				body_html TEXT,
				thread_id TEXT NOT NULL DEFAULT '',
				reply_to_id TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_drafts_account ON drafts(account_id);

			-- Attachments belong to a draft or a message, never both
			CREATE TABLE attachments (
				id TEXT PRIMARY KEY,
				draft_id TEXT REFERENCES drafts(id) ON DELETE CASCADE,
				message_id TEXT REFERENCES messages(id) ON DELETE CASCADE,
				filename TEXT NOT NULL DEFAULT '',
				mime_type TEXT NOT NULL DEFAULT 'application/octet-stream',
				size INTEGER NOT NULL DEFAULT 0,
				data BLOB,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				CHECK ((draft_id IS NULL) <> (message_id IS NULL))
			);
			CREATE INDEX idx_attachments_draft ON attachments(draft_id);
			CREATE INDEX idx_attachments_message ON attachments(message_id);

			-- Pending provider echoes; message_id has no FK so delete ops
			-- survive the local hard delete they mirror
			CREATE TABLE pending_operations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				message_id TEXT NOT NULL,
				operation TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_attempt DATETIME,
				last_error TEXT,
				status TEXT NOT NULL DEFAULT 'pending',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_pending_status ON pending_operations(status, account_id, created_at);
			CREATE INDEX idx_pending_message ON pending_operations(message_id, status);

			-- Tool invocation audit trail
			CREATE TABLE action_logs (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL DEFAULT '',
				message_id TEXT NOT NULL,
				action_name TEXT NOT NULL,
				server TEXT NOT NULL DEFAULT '',
				tool TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				extracted TEXT,
				result TEXT,
				error TEXT,
				attempts INTEGER NOT NULL DEFAULT 0,
				processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_action_logs_message ON action_logs(message_id, action_name);

			-- Remote-content allow list
			CREATE TABLE trusted_senders (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				sender TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(account_id, sender)
			);

			-- Browser push registrations
			CREATE TABLE push_subscriptions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				endpoint TEXT NOT NULL UNIQUE,
				p256dh TEXT NOT NULL DEFAULT '',
				auth TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}

// searchIndexSchema is applied outside the versioned chain because FTS5 is
// an optional sqlite build feature.
const searchIndexSchema = `
	CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		subject,
		from_addr,
		snippet,
		body_text,
		content='messages',
		content_rowid='rowid'
	);

	CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, subject, from_addr, snippet, body_text)
		VALUES (new.rowid, new.subject, new.from_addr, new.snippet, COALESCE(new.body_text, ''));
	END;

	CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, subject, from_addr, snippet, body_text)
		VALUES ('delete', old.rowid, old.subject, old.from_addr, old.snippet, COALESCE(old.body_text, ''));
	END;

	CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, subject, from_addr, snippet, body_text)
		VALUES ('delete', old.rowid, old.subject, old.from_addr, old.snippet, COALESCE(old.body_text, ''));
		INSERT INTO messages_fts(rowid, subject, from_addr, snippet, body_text)
		VALUES (new.rowid, new.subject, new.from_addr, new.snippet, COALESCE(new.body_text, ''));
	END;
`
