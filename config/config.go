package config

import (
	"path/filepath"

	"github.com/JLJLJ/spreadsheet/tools"
)

// 环境变量：
// SHEET_ADDR            监听地址 (默认 :8000)
// SHEET_DATA_DIR        数据目录 (默认 ./data)
// SHEET_HISTORY_MAX     每个房间历史记录上限 (默认 100)
// SHEET_HISTORY_REPORT  history_update 广播条数 (默认 20)
// REDIS_ADDR            可选，在线状态镜像
// REDIS_PASSWORD
// REDIS_DB
// NATS_SERVERS          可选，审计事件发布
// AUDIT_SUBJECT         (默认 sheet.audit)

type Config struct {
	Addr          string
	DataDir       string
	HistoryMax    int
	HistoryReport int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NatsServers  string
	AuditSubject string
}

func Load() Config {
	return Config{
		Addr:          tools.GetEnv("SHEET_ADDR", ":8000"),
		DataDir:       tools.GetEnv("SHEET_DATA_DIR", "./data"),
		HistoryMax:    tools.GetEnvInt("SHEET_HISTORY_MAX", 100),
		HistoryReport: tools.GetEnvInt("SHEET_HISTORY_REPORT", 20),
		RedisAddr:     tools.GetEnv("REDIS_ADDR", ""),
		RedisPassword: tools.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       tools.GetEnvInt("REDIS_DB", 0),
		NatsServers:   tools.GetEnv("NATS_SERVERS", ""),
		AuditSubject:  tools.GetEnv("AUDIT_SUBJECT", "sheet.audit"),
	}
}

// SheetsDir 表格文件目录
func (c Config) SheetsDir() string { return filepath.Join(c.DataDir, "sheets") }

// LogsDir 审计日志目录
func (c Config) LogsDir() string { return filepath.Join(c.DataDir, "logs") }

// KeyDBPath 密钥库 sqlite 文件
func (c Config) KeyDBPath() string { return filepath.Join(c.DataDir, "sheets.db") }
