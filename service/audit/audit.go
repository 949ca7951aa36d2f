package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/JLJLJ/spreadsheet/logger"
)

// Record 一条审计记录：每个落盘动作一条
type Record struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	SheetKey    string `json:"sheet_key"`
	Action      string `json:"action"`
	Details     any    `json:"details"`
}

// Sink 按天切分的 JSONL 审计日志，独立于内存中的修改历史。
// 配置了 NATS 时同一条记录同时发布到审计主题，发布失败不影响落盘。
type Sink struct {
	mu      sync.Mutex
	dir     string
	nc      *nats.Conn
	subject string
}

func NewSink(dir string) *Sink {
	return &Sink{dir: dir}
}

// WithNATS 挂接审计事件发布。连不上只记日志，Sink 照常工作。
func (s *Sink) WithNATS(servers, subject string) *Sink {
	nc, err := nats.Connect(servers, nats.Name("sheet-audit"))
	if err != nil {
		logger.Warnf("[audit] nats connect failed, publish disabled: %v", err)
		return s
	}
	s.nc = nc
	s.subject = subject
	return s
}

func (s *Sink) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

// Append 追加一条记录。文件名按当天日期，一行一个 JSON 对象。
func (s *Sink) Append(rec Record) error {
	now := time.Now()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = now.Format("2006-01-02 15:04:05.000")
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal audit record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "ensure logs dir")
	}
	path := filepath.Join(s.dir, now.Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open audit log %s", path)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrapf(err, "write audit log %s", path)
	}

	if s.nc != nil {
		if perr := s.nc.Publish(s.subject, line); perr != nil {
			logger.Warnf("[audit] publish failed: %v", perr)
		}
	}
	return nil
}
