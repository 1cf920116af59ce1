package app

const (
	Name           = "novoground"
	ConfigFilename = "config.json"
	DBFilename     = "archive.db"
	LogFilename    = "events.log"
)
