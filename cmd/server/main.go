package main

import (
	"flag"
	"os"
	"path"

	"github.com/grokproxy/GrokProxyAPI/internal/cmd"
	"github.com/grokproxy/GrokProxyAPI/internal/config"
	"github.com/grokproxy/GrokProxyAPI/internal/logging"
	"github.com/grokproxy/GrokProxyAPI/internal/util"
	log "github.com/sirupsen/logrus"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.Parse()

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = path.Join(wd, "config.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.SetLogLevel(cfg)

	cmd.StartService(cfg, configPath)
}
