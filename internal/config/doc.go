// Package config provides configuration loading for the demo server.
//
// Configuration is YAML with ${VAR} and ${VAR:-default} environment
// substitution:
//
//	cfg, err := config.LoadConfig("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The Watcher reloads the file on change so route rules can be edited
// without a restart:
//
//	watcher, err := config.NewWatcher("config.yaml", func(cfg *config.Config) {
//	    table.Update(cfg.Routes)
//	})
//	if err := watcher.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer watcher.Stop()
package config
