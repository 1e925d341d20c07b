package names

// Middleware types.
const (
	Metadata  = "metadata"
	Collector = "collector"
	Dropper   = "dropper"
	Ignorer   = "ignorer"
	Limiter   = "limiter"
	Script    = "script"
	Caption   = "caption"
)

// Watcher types.
const (
	LocalSource   = "local"
	RSSSource     = "rss"
	DiscordSource = "discord"
	Pusher        = "pusher"
)

// Uploader types.
const (
	LocalTarget   = "local"
	DiscordTarget = "discord"
	BlueskyTarget = "bluesky"
	FeedTarget    = "feed"
)
