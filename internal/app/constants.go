package app

const (
	Name            = "cortex"
	ConfigFilename  = "config.json"
	DBFilename      = "journal.db"
	LogFilename     = "cortex.log"
)
