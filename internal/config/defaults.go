// Package config provides configuration loading and defaults for d20meter.
package config

import "time"

// DefaultConfigDir is the default location for d20meter configuration.
const DefaultConfigDir = "~/.config/d20meter"

// DefaultDBName is the filename for the SQLite database.
const DefaultDBName = "d20meter.db"

// DefaultConfigFile is the filename for the YAML config.
const DefaultConfigFile = "config.yaml"

// DefaultRosterName is the filename for the identity roster snapshot.
const DefaultRosterName = "roster.yaml"

// DefaultPIDName is the filename of the watch daemon's PID file.
const DefaultPIDName = "watch.pid"

// DefaultSession holds the default session policy.
var DefaultSession = Session{
	ClosePreviousOnCreate: false,
	AutoStartMinUsers:     2,
}

// DefaultNormalizer holds the default event recognition markers.
var DefaultNormalizer = Normalizer{
	StratagemFlavor:  "Devise a Stratagem",
	KnowledgeMarkers: []string{"Recall Knowledge", "recall-knowledge"},
	KnowledgeDomain:  "recall-knowledge",
}

// DefaultFeed holds the default event feed settings.
var DefaultFeed = Feed{
	Interval: 2 * time.Second,
}

// DefaultOutput holds the default output preferences.
var DefaultOutput = Output{
	Color: true,
	Width: 80,
}

// DefaultLog holds the default logging settings.
var DefaultLog = Log{
	Level:  "warn",
	Format: "text",
}
