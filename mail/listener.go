package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	gomail "github.com/emersion/go-message/mail"

	"sigbridge/config"
	"sigbridge/engine"
	"sigbridge/event"
	"sigbridge/logger"
	"sigbridge/metrics"
	"sigbridge/storage"
)

// 重连退避阶梯，连接稳定后重置
var reconnectBackoff = []time.Duration{
	2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second,
}

// Listener 邮箱信号监听器
// IMAP IDLE 等待新邮件，按 Message-ID 去重后提取信号交给执行器
type Listener struct {
	cfg     func() *config.Config
	engine  *engine.Engine
	store   *storage.DedupStore
	bus     *event.EventBus
	metrics *metrics.PrometheusMetrics
}

// NewListener 创建邮箱监听器
func NewListener(cfg func() *config.Config, eng *engine.Engine, store *storage.DedupStore, bus *event.EventBus) *Listener {
	return &Listener{
		cfg:     cfg,
		engine:  eng,
		store:   store,
		bus:     bus,
		metrics: metrics.GetPrometheusMetrics(),
	}
}

// Run 主循环：连接 -> 补扫未读 -> IDLE 等待，断线按阶梯退避重连
// 阻塞直到 ctx 取消
func (l *Listener) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		startedAt := time.Now()
		err := l.runSession(ctx)
		if ctx.Err() != nil {
			return
		}

		// 稳定运行过一段时间的会话断开后从头开始退避
		if time.Since(startedAt) > time.Minute {
			attempt = 0
		}
		backoff := reconnectBackoff[attempt]
		if attempt < len(reconnectBackoff)-1 {
			attempt++
		}
		logger.Warn("📧 [邮箱] 会话中断: err=%v, %s 后重连", err, backoff)
		l.metrics.RecordMailReconnect()

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// runSession 单次 IMAP 会话：登录、选择标签、补扫、IDLE
func (l *Listener) runSession(ctx context.Context) error {
	cfg := l.cfg()

	c, err := client.DialTLS(cfg.Mail.IMAPHost, nil)
	if err != nil {
		return fmt.Errorf("连接 IMAP 服务器失败: %w", err)
	}
	defer c.Logout()

	if err := c.Login(cfg.Mail.IMAPUser, cfg.Mail.IMAPPassword); err != nil {
		return fmt.Errorf("IMAP 登录失败: %w", err)
	}

	mailbox := cfg.Mail.Label
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return fmt.Errorf("选择邮箱标签 %s 失败: %w", mailbox, err)
	}
	logger.Info("📧 [邮箱] 已连接: host=%s label=%s", cfg.Mail.IMAPHost, mailbox)

	// 先补扫 IDLE 期间外堆积的未读邮件
	if err := l.processUnseen(ctx, c); err != nil {
		return err
	}

	renew := time.Duration(cfg.Mail.IdleRenewSeconds) * time.Second
	if renew <= 0 {
		renew = 1500 * time.Second // Gmail 要求 29 分钟内续期
	}

	updates := make(chan client.Update, 16)
	c.Updates = updates

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		stop := make(chan struct{})
		idleDone := make(chan error, 1)
		go func() {
			idleDone <- c.Idle(stop, nil)
		}()

		wake := false
		select {
		case <-updates:
			wake = true
		case <-time.After(renew):
		case <-ctx.Done():
		}
		close(stop)
		if err := <-idleDone; err != nil {
			return fmt.Errorf("IDLE 中断: %w", err)
		}
		// IDLE 退出瞬间可能还有排队的更新
		for drained := false; !drained; {
			select {
			case <-updates:
				wake = true
			default:
				drained = true
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if wake {
			if err := l.processUnseen(ctx, c); err != nil {
				return err
			}
		}
	}
}

// fetchedMessage 取回的邮件（先收齐再处理，避免在 FETCH 流式期间发其它命令）
type fetchedMessage struct {
	seqNum    uint32
	messageID string
	subject   string
	date      time.Time
	body      []byte
}

// processUnseen 处理所有未读邮件
func (l *Listener) processUnseen(ctx context.Context, c *client.Client) error {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("搜索未读邮件失败: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	logger.Info("📧 [邮箱] 发现 %d 封未读邮件", len(ids))

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	// Peek 读取，处理完再显式置已读
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.Fetch(seqset, items, messages)
	}()

	fetched := make([]*fetchedMessage, 0, len(ids))
	for msg := range messages {
		fm := &fetchedMessage{seqNum: msg.SeqNum}
		if msg.Envelope != nil {
			fm.messageID = msg.Envelope.MessageId
			fm.subject = msg.Envelope.Subject
			fm.date = msg.Envelope.Date
		}
		if r := msg.GetBody(section); r != nil {
			fm.body = readTextBody(r)
		}
		fetched = append(fetched, fm)
	}
	if err := <-fetchDone; err != nil {
		return fmt.Errorf("取回邮件失败: %w", err)
	}

	for _, fm := range fetched {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.handleMessage(ctx, c, fm)
	}
	return nil
}

// handleMessage 处理单封邮件：Message-ID 去重 -> 新鲜度 -> 提取载荷 -> 执行
// 任何结局都把邮件置为已读，避免下次补扫重复拉取
func (l *Listener) handleMessage(ctx context.Context, c *client.Client, fm *fetchedMessage) {
	defer l.markSeen(c, fm.seqNum)

	if fm.messageID == "" {
		logger.Warn("📧 [邮箱] 跳过无 Message-ID 的邮件: subject=%s", fm.subject)
		l.metrics.RecordMailProcessed("no_message_id")
		return
	}

	done, err := l.store.IsEmailProcessed(fm.messageID)
	if err != nil {
		logger.Error("📧 [邮箱] 去重库查询失败: %v", err)
		return
	}
	if done {
		logger.Debug("📧 [邮箱] 忽略已处理邮件: %s", fm.messageID)
		return
	}

	cfg := l.cfg()

	// 旧邮件直接跳过：重启后补扫不应执行几小时前的信号
	maxAge := time.Duration(cfg.Mail.MaxMessageAgeMin) * time.Minute
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	if !fm.date.IsZero() && time.Since(fm.date) > maxAge {
		logger.Info("📧 [邮箱] 跳过旧邮件: subject=%s age=%s", fm.subject, time.Since(fm.date).Round(time.Second))
		l.markEmail(fm, "", "stale_email")
		l.metrics.RecordMailProcessed("stale")
		return
	}

	payload, err := ExtractPayload(fm.subject, string(fm.body))
	if err != nil {
		l.failMessage(c, fm, fmt.Sprintf("提取载荷失败: %v", err))
		return
	}
	sig, err := engine.SignalFromPayload(payload, "email")
	if err != nil {
		l.failMessage(c, fm, fmt.Sprintf("载荷转信号失败: %v", err))
		return
	}

	res := l.engine.Execute(ctx, sig)
	l.markEmailWithSignal(fm, sig, res.Status)
	l.metrics.RecordMailProcessed(res.Status)
	logger.Info("📧 [邮箱] 信号执行完成: subject=%s status=%s reason=%s", fm.subject, res.Status, res.Reason)
}

// failMessage 解析失败：标记 + 转移到失败标签 + 告警事件
func (l *Listener) failMessage(c *client.Client, fm *fetchedMessage, detail string) {
	logger.Error("📧 [邮箱] %s: subject=%s", detail, fm.subject)
	l.markEmail(fm, "", "parse_failed")
	l.metrics.RecordMailProcessed("parse_failed")
	l.bus.PublishData(event.EventTypeMailError, map[string]interface{}{
		"subject": fm.subject, "message_id": fm.messageID, "detail": detail,
	})

	if failedLabel := l.cfg().Mail.FailedLabel; failedLabel != "" {
		seq := new(imap.SeqSet)
		seq.AddNum(fm.seqNum)
		if err := c.Copy(seq, failedLabel); err != nil {
			logger.Warn("📧 [邮箱] 转移到失败标签失败: %v", err)
		}
	}
}

func (l *Listener) markEmail(fm *fetchedMessage, barTS, status string) {
	if err := l.store.MarkEmailProcessed(fm.messageID, barTS, "", "", status); err != nil {
		logger.Error("📧 [邮箱] 写入去重库失败: %v", err)
	}
}

func (l *Listener) markEmailWithSignal(fm *fetchedMessage, sig *engine.Signal, status string) {
	barTS := strconv.FormatInt(sig.BarTimeMs(), 10)
	if err := l.store.MarkEmailProcessed(fm.messageID, barTS, sig.RawSymbol, string(sig.Side), status); err != nil {
		logger.Error("📧 [邮箱] 写入去重库失败: %v", err)
	}
}

func (l *Listener) markSeen(c *client.Client, seqNum uint32) {
	seq := new(imap.SeqSet)
	seq.AddNum(seqNum)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seq, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		logger.Warn("📧 [邮箱] 置已读失败: %v", err)
	}
}

// readTextBody 解析 MIME 结构取出文本正文，解析失败时退回原始字节
func readTextBody(r io.Reader) []byte {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil
	}

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return raw
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		if _, ok := part.Header.(*gomail.InlineHeader); ok {
			body, err := io.ReadAll(part.Body)
			if err == nil && len(body) > 0 {
				return body
			}
		}
	}
	return raw
}
