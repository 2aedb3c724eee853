package sqlite

// schema is applied by Migrate. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id   INTEGER NOT NULL,
	user_id      INTEGER NOT NULL,
	username     TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL,
	client_nonce TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'sent',
	created_at   DATETIME NOT NULL,
	read_at      DATETIME,
	UNIQUE (channel_id, client_nonce)
);

CREATE INDEX IF NOT EXISTS idx_messages_channel_id ON messages (channel_id, id);

CREATE TABLE IF NOT EXISTS channel_members (
	user_id    INTEGER NOT NULL,
	channel_id INTEGER NOT NULL,
	joined_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, channel_id)
);
`
