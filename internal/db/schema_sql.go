package db

// Timestamps are stored as unix milliseconds in both dialects.

const tablesSQL = `
CREATE TABLE IF NOT EXISTS profiles (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL,
  full_name TEXT,
  avatar_url TEXT,
  status TEXT,
  deleted_at BIGINT
);

CREATE TABLE IF NOT EXISTS workspaces (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  slug TEXT NOT NULL UNIQUE,
  owner_id TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS workspace_members (
  workspace_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'member',  -- owner, admin, member or guest
  joined_at BIGINT NOT NULL,
  PRIMARY KEY (workspace_id, user_id)
);

CREATE TABLE IF NOT EXISTS invitations (
  id TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  code TEXT NOT NULL UNIQUE,
  created_by TEXT NOT NULL,
  expires_at BIGINT,                   -- null never expires
  max_uses INTEGER,                    -- null is unlimited
  used_count INTEGER NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invitations_workspace ON invitations(workspace_id, created_at);

CREATE TABLE IF NOT EXISTS channels (
  id TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  name TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'public',
  topic TEXT,
  description TEXT,
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_channels_workspace ON channels(workspace_id, name);

CREATE TABLE IF NOT EXISTS channel_members (
  channel_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  joined_at BIGINT NOT NULL,
  last_read_at BIGINT,
  PRIMARY KEY (channel_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  channel_id TEXT NOT NULL,
  parent_id TEXT,                      -- root message id for replies
  user_id TEXT NOT NULL,
  content TEXT,                        -- null for attachment-only messages
  created_at BIGINT NOT NULL,
  updated_at BIGINT,
  is_edited INTEGER NOT NULL DEFAULT 0,
  deleted_at BIGINT                    -- soft delete
);

CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON messages(channel_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_parent_created ON messages(parent_id, created_at);

CREATE TABLE IF NOT EXISTS threads (
  parent_message_id TEXT PRIMARY KEY,
  reply_count INTEGER NOT NULL DEFAULT 0,
  last_reply_at BIGINT,
  participant_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reactions (
  id TEXT PRIMARY KEY,
  message_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  emoji TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reactions_message ON reactions(message_id, created_at);

CREATE TABLE IF NOT EXISTS attachments (
  id TEXT PRIMARY KEY,
  message_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  file_url TEXT NOT NULL,
  file_name TEXT NOT NULL,
  file_size BIGINT NOT NULL DEFAULT 0,
  mime_type TEXT NOT NULL DEFAULT '',
  uploaded_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);
`

const sqliteChangesSQL = `
CREATE TABLE IF NOT EXISTS changes (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  op TEXT NOT NULL,
  channel_id TEXT NOT NULL,
  row_id TEXT NOT NULL
);

CREATE TRIGGER IF NOT EXISTS trg_messages_reply_insert
AFTER INSERT ON messages
WHEN NEW.parent_id IS NOT NULL AND NEW.deleted_at IS NULL
BEGIN
  INSERT INTO threads (parent_message_id, reply_count, last_reply_at, participant_count)
  VALUES (NEW.parent_id, 1, NEW.created_at, 1)
  ON CONFLICT(parent_message_id) DO UPDATE SET
    reply_count = reply_count + 1,
    last_reply_at = MAX(COALESCE(last_reply_at, 0), excluded.last_reply_at),
    participant_count = (
      SELECT COUNT(DISTINCT user_id) FROM messages
      WHERE parent_id = NEW.parent_id AND deleted_at IS NULL
    );
END;

CREATE TRIGGER IF NOT EXISTS trg_messages_reply_delete
AFTER UPDATE OF deleted_at ON messages
WHEN NEW.parent_id IS NOT NULL AND OLD.deleted_at IS NULL AND NEW.deleted_at IS NOT NULL
BEGIN
  UPDATE threads SET
    reply_count = MAX(reply_count - 1, 0),
    participant_count = (
      SELECT COUNT(DISTINCT user_id) FROM messages
      WHERE parent_id = NEW.parent_id AND deleted_at IS NULL
    )
  WHERE parent_message_id = NEW.parent_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_messages_change_insert
AFTER INSERT ON messages
BEGIN
  INSERT INTO changes (op, channel_id, row_id) VALUES ('INSERT', NEW.channel_id, NEW.id);
END;

CREATE TRIGGER IF NOT EXISTS trg_messages_change_update
AFTER UPDATE ON messages
BEGIN
  INSERT INTO changes (op, channel_id, row_id) VALUES ('UPDATE', NEW.channel_id, NEW.id);
END;
`

// NotifyChannel is the Postgres LISTEN channel woken on every message change.
const NotifyChannel = "threadline_changes"

const postgresChangesSQL = `
CREATE TABLE IF NOT EXISTS changes (
  seq BIGSERIAL PRIMARY KEY,
  op TEXT NOT NULL,
  channel_id TEXT NOT NULL,
  row_id TEXT NOT NULL
);

CREATE OR REPLACE FUNCTION threadline_message_changed() RETURNS trigger AS $$
BEGIN
  IF TG_OP = 'INSERT' AND NEW.parent_id IS NOT NULL AND NEW.deleted_at IS NULL THEN
    INSERT INTO threads (parent_message_id, reply_count, last_reply_at, participant_count)
    VALUES (NEW.parent_id, 1, NEW.created_at, 1)
    ON CONFLICT (parent_message_id) DO UPDATE SET
      reply_count = threads.reply_count + 1,
      last_reply_at = GREATEST(COALESCE(threads.last_reply_at, 0), EXCLUDED.last_reply_at),
      participant_count = (
        SELECT COUNT(DISTINCT user_id) FROM messages
        WHERE parent_id = NEW.parent_id AND deleted_at IS NULL
      );
  ELSIF TG_OP = 'UPDATE' AND NEW.parent_id IS NOT NULL
        AND OLD.deleted_at IS NULL AND NEW.deleted_at IS NOT NULL THEN
    UPDATE threads SET
      reply_count = GREATEST(reply_count - 1, 0),
      participant_count = (
        SELECT COUNT(DISTINCT user_id) FROM messages
        WHERE parent_id = NEW.parent_id AND deleted_at IS NULL
      )
    WHERE parent_message_id = NEW.parent_id;
  END IF;

  INSERT INTO changes (op, channel_id, row_id) VALUES (TG_OP, NEW.channel_id, NEW.id);
  PERFORM pg_notify('threadline_changes', NEW.channel_id);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_messages_changed ON messages;
CREATE TRIGGER trg_messages_changed
AFTER INSERT OR UPDATE ON messages
FOR EACH ROW EXECUTE FUNCTION threadline_message_changed();
`
