package main

import (
	"encoding/json"
	"os"

	"github.com/omeid/uconfig"
)

// configFilename is the filename of the config file automatically loaded.
var configFilename = "config.json"

type config struct {
	DB struct {
		Path string `default:"database.db"` // SQLite database file path
	}
	Metrics struct {
		Port string `default:"9090"` // Prometheus endpoint port
	}
	Log struct {
		Debug bool `default:"false"` // enable debug level logging
		Human bool `default:"false"` // human friendly console output
	}
	Analytics struct {
		Enabled bool `default:"true"` // run the analytics engine
	}
}

func setupConfig() *config {
	conf := &config{}
	confFiles := uconfig.Files{
		{configFilename, json.Unmarshal},
	}

	c, err := uconfig.Classic(&conf, confFiles)
	if err != nil {
		c.Usage()
		os.Exit(1)
	}

	return conf
}
