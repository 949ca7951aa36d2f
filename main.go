package main

import (
	"os"

	"github.com/gin-gonic/gin"

	"github.com/JLJLJ/spreadsheet/config"
	"github.com/JLJLJ/spreadsheet/logger"
	"github.com/JLJLJ/spreadsheet/service/audit"
	"github.com/JLJLJ/spreadsheet/service/room"
	"github.com/JLJLJ/spreadsheet/service/sheet"
	"github.com/JLJLJ/spreadsheet/service/storage"
	"github.com/JLJLJ/spreadsheet/service/sync"
)

func main() {
	cfg := config.Load()

	for _, dir := range []string{cfg.DataDir, cfg.SheetsDir(), cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Errorf("create dir %s: %v", dir, err)
			os.Exit(1)
		}
	}

	keys, err := storage.OpenKeyStore(cfg.KeyDBPath())
	if err != nil {
		logger.Errorf("open keystore: %v", err)
		os.Exit(1)
	}
	defer keys.Close()

	store := sheet.NewStore(cfg.SheetsDir())
	seedDefaultKey(keys, store)

	sink := audit.NewSink(cfg.LogsDir())
	if cfg.NatsServers != "" {
		sink = sink.WithNATS(cfg.NatsServers, cfg.AuditSubject)
	}
	defer sink.Close()

	var presence *storage.Presence
	if cfg.RedisAddr != "" {
		presence, err = storage.NewPresence(storage.PresenceConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warnf("redis presence disabled: %v", err)
			presence = nil
		} else {
			defer presence.Close()
		}
	}

	reg := room.NewRegistry(cfg.HistoryMax)
	engine := sync.NewEngine(reg, store, sink, presence, cfg.HistoryReport)

	r := gin.Default()
	r.GET("/ws/:key", engine.HandleWS(keys))
	r.GET("/api/sheet/:key", engine.HandleSnapshot(keys))
	r.GET("/api/sheet/:key/history", engine.HandleHistory(keys))

	logger.Infof("sheet sync server listening on %s", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		logger.Errorf("server exit: %v", err)
		os.Exit(1)
	}
}

// seedDefaultKey 空库种一个演示密钥，管理端不在本服务内
func seedDefaultKey(keys *storage.KeyStore, store *sheet.Store) {
	n, err := keys.Count()
	if err != nil || n > 0 {
		return
	}
	path, err := store.CreateEmpty("demo")
	if err != nil {
		logger.Warnf("seed demo sheet failed: %v", err)
		return
	}
	if err := keys.Create("demo", "Demo Sheet", path); err != nil {
		logger.Warnf("seed demo key failed: %v", err)
	}
}
