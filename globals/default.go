package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "cardscore",
	Level: hclog.LevelFromString("INFO"),
})
