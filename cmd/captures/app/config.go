package app

import (
	"errors"
	"flag"
)

type Config struct {
	DBPath string
	RunPK  int64
}

func NewConfigFromCLI() (*Config, error) {
	var c Config
	flag.StringVar(&c.DBPath, "db", "", "Path to the capture index database")
	flag.Int64Var(&c.RunPK, "r", 0, "Run ID to list captures for; omit to list runs")
	flag.Parse()

	if c.DBPath == "" {
		flag.Usage()
		return nil, errors.New("db path is required")
	}
	if c.RunPK < 0 {
		flag.Usage()
		return nil, errors.New("run id must be positive")
	}

	return &c, nil
}
