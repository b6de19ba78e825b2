package db

import (
	"database/sql"
	"log"
)

// Schema
const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		created_at TEXT NOT NULL
	)`

	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL DEFAULT 'Person',
		handle TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		profile_url TEXT NOT NULL DEFAULT '',
		inbox_uri TEXT NOT NULL,
		shared_inbox_uri TEXT NOT NULL DEFAULT '',
		outbox_uri TEXT NOT NULL DEFAULT '',
		followers_uri TEXT NOT NULL DEFAULT '',
		featured_uri TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		private_key_pem TEXT NOT NULL DEFAULT '',
		account_id TEXT UNIQUE REFERENCES accounts(id),
		local INTEGER NOT NULL DEFAULT 0,
		last_fetched_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`

	sqlCreateActorsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_local_name ON actors(kind, username) WHERE local = 1;
		CREATE INDEX IF NOT EXISTS idx_actors_domain ON actors(domain);
	`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		actor_id TEXT NOT NULL REFERENCES actors(id),
		content TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		in_reply_to_id TEXT REFERENCES posts(id),
		in_reply_to_uri TEXT NOT NULL DEFAULT '',
		sensitive INTEGER NOT NULL DEFAULT 0,
		like_count INTEGER NOT NULL DEFAULT 0,
		boost_count INTEGER NOT NULL DEFAULT 0,
		score REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_actor_id ON posts(actor_id);
		CREATE INDEX IF NOT EXISTS idx_posts_in_reply_to_id ON posts(in_reply_to_id);
		CREATE INDEX IF NOT EXISTS idx_posts_score ON posts(score DESC);
	`

	sqlCreateMediaTable = `CREATE TABLE IF NOT EXISTS media_attachments (
		id TEXT NOT NULL PRIMARY KEY,
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		media_type TEXT NOT NULL DEFAULT '',
		alt_text TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0
	)`

	sqlCreateHashtagsTable = `CREATE TABLE IF NOT EXISTS hashtags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		usage_count INTEGER DEFAULT 0,
		last_used_at TEXT
	)`

	sqlCreatePostHashtagsTable = `CREATE TABLE IF NOT EXISTS post_hashtags (
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		hashtag_id INTEGER NOT NULL REFERENCES hashtags(id) ON DELETE CASCADE,
		PRIMARY KEY (post_id, hashtag_id)
	)`

	sqlCreatePinnedPostsTable = `CREATE TABLE IF NOT EXISTS pinned_posts (
		actor_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (actor_id, post_id)
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		UNIQUE(follower_id, target_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_target_id ON follows(target_id, state);
		CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(actor_id, post_id)
	)`

	sqlCreateBoostsTable = `CREATE TABLE IF NOT EXISTS boosts (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(actor_id, post_id)
	)`

	sqlCreateEngagementIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_post_id ON likes(post_id);
		CREATE INDEX IF NOT EXISTS idx_boosts_post_id ON boosts(post_id);
	`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		notification_type TEXT NOT NULL,
		source_actor_id TEXT NOT NULL,
		target_actor_id TEXT NOT NULL,
		post_id TEXT,
		read INTEGER DEFAULT 0,
		created_at TEXT NOT NULL
	)`

	sqlCreateNotificationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_notifications_target ON notifications(target_actor_id, created_at DESC);
	`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		verb TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL DEFAULT '',
		object_type TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		raw_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_outbox ON activities(actor_id, direction, created_at DESC);
	`

	sqlCreateCommunitySettingsTable = `CREATE TABLE IF NOT EXISTS community_settings (
		actor_id TEXT NOT NULL PRIMARY KEY,
		auto_approve INTEGER NOT NULL DEFAULT 1
	)`

	sqlCreateCommunityBansTable = `CREATE TABLE IF NOT EXISTS community_bans (
		community_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (community_id, actor_id)
	)`

	sqlCreateCommunitySubmissionsTable = `CREATE TABLE IF NOT EXISTS community_submissions (
		id TEXT NOT NULL PRIMARY KEY,
		community_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		auto_approved INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		UNIQUE(community_id, post_id)
	)`
)

type tableDef struct {
	name      string
	createSQL string
}

var tables = []tableDef{
	{"accounts", sqlCreateAccountsTable},
	{"actors", sqlCreateActorsTable},
	{"posts", sqlCreatePostsTable},
	{"media_attachments", sqlCreateMediaTable},
	{"hashtags", sqlCreateHashtagsTable},
	{"post_hashtags", sqlCreatePostHashtagsTable},
	{"pinned_posts", sqlCreatePinnedPostsTable},
	{"follows", sqlCreateFollowsTable},
	{"likes", sqlCreateLikesTable},
	{"boosts", sqlCreateBoostsTable},
	{"notifications", sqlCreateNotificationsTable},
	{"activities", sqlCreateActivitiesTable},
	{"community_settings", sqlCreateCommunitySettingsTable},
	{"community_bans", sqlCreateCommunityBansTable},
	{"community_submissions", sqlCreateCommunitySubmissionsTable},
}

var indices = []tableDef{
	{"actors", sqlCreateActorsIndices},
	{"posts", sqlCreatePostsIndices},
	{"follows", sqlCreateFollowsIndices},
	{"likes/boosts", sqlCreateEngagementIndices},
	{"notifications", sqlCreateNotificationsIndices},
	{"activities", sqlCreateActivitiesIndices},
}

// RunMigrations creates all tables and indices; it is safe to run on every start
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, t := range tables {
			if err := db.createTableIfNotExists(tx, t.createSQL, t.name); err != nil {
				return err
			}
		}

		for _, idx := range indices {
			if _, err := tx.Exec(idx.createSQL); err != nil {
				log.Printf("Warning: Failed to create %s indices: %v", idx.name, err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	if _, err := tx.Exec(createSQL); err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
