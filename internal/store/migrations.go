package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL DEFAULT '',
	agent_id    TEXT NOT NULL DEFAULT '',
	room_id     TEXT NOT NULL DEFAULT '',
	collection  TEXT NOT NULL,
	mail_uuid   TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	mail_uuid   TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL,
	read        INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_room_collection
	ON memories(room_id, collection, created_at);
CREATE INDEX IF NOT EXISTS idx_memories_mail_uuid ON memories(mail_uuid);
CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications(user_id, read);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS pending_replies (
	id                  TEXT PRIMARY KEY,
	target_email_uuid   TEXT NOT NULL,
	user_id             TEXT NOT NULL DEFAULT '',
	room_id             TEXT NOT NULL DEFAULT '',
	recipient           TEXT NOT NULL,
	subject             TEXT NOT NULL DEFAULT '',
	body                TEXT NOT NULL,
	thread_id           TEXT NOT NULL DEFAULT '',
	in_reply_to         TEXT NOT NULL DEFAULT '',
	refs                TEXT NOT NULL DEFAULT '[]',
	status              TEXT NOT NULL DEFAULT 'pending',
	created_at          DATETIME NOT NULL,
	expires_at          DATETIME NOT NULL,
	sent_at             DATETIME,
	provider_message_id TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_replies_active
	ON pending_replies(target_email_uuid)
	WHERE status IN ('pending', 'sending');
CREATE INDEX IF NOT EXISTS idx_pending_replies_room
	ON pending_replies(room_id, status, created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS knowledge (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reply_templates (
	agent_id    TEXT PRIMARY KEY,
	greeting    TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	best_regard TEXT NOT NULL DEFAULT '',
	signature   TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_presence (
	user_id     TEXT PRIMARY KEY,
	connected   INTEGER NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_agent ON knowledge(agent_id);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
	{
		version: 4,
		sql: `
ALTER TABLE pending_replies ADD COLUMN claimed_at DATETIME;

DROP INDEX IF EXISTS idx_pending_replies_active;
CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_replies_active
	ON pending_replies(room_id, target_email_uuid)
	WHERE status IN ('pending', 'sending');

INSERT INTO schema_version (version) VALUES (4);
`,
	},
}
