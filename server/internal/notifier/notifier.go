// Package notifier 是进程内的变更广播总线。
// 纯中继，不落任何状态：发布时不在线的订阅者永远错过该事件，
// 补齐的责任在订阅端重连后的全量拉取。
package notifier

import (
	"log"
	"sync"
	"sync/atomic"

	"botstudio/server/internal/model"
)

// Kind 是事件种类。每种 Kind 内部按发布顺序投递，跨 Kind 不保证顺序。
type Kind string

const (
	ResponsesModified Kind = "responses_modified"
	ResponseDeleted   Kind = "response_deleted"
)

// Event 是投递给订阅者的载荷：被改动（或删除前快照）的完整文档。
type Event struct {
	Kind      Kind               `json:"kind"`
	ProjectID string             `json:"project_id"`
	Response  *model.BotResponse `json:"response"`
}

const defaultSubscriberBuffer = 64

// Service 是可构造的广播服务实例，由进程的组装根持有并注入编排器，
// 生命周期跟随进程，不是包级单例。
//
// 发布是 fire-and-forget：广播到所有订阅者，projectId 过滤在投递侧做；
// 订阅者缓冲满时事件被丢弃（背压控制），发布方永不阻塞。
type Service struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
	logger *log.Logger

	dropped atomic.Int64
}

type subscriber struct {
	projectID string
	kinds     map[Kind]bool
	ch        chan Event
}

func New() *Service {
	return &Service{
		subs:   make(map[int]*subscriber),
		logger: log.Default(),
	}
}

// Subscribe 注册一个按 projectId 过滤的订阅。kinds 为空表示两种事件都要。
// 返回的 cancel 负责注销并关闭通道，订阅端用完必须调用。
func (s *Service) Subscribe(projectID string, kinds ...Kind) (<-chan Event, func()) {
	sub := &subscriber{
		projectID: projectID,
		kinds:     make(map[Kind]bool, len(kinds)),
		ch:        make(chan Event, defaultSubscriberBuffer),
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = sub
	total := len(s.subs)
	s.mu.Unlock()

	s.logger.Printf("[Notifier] subscriber added: project=%s total=%d", projectID, total)

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.ch)
		}
		remaining := len(s.subs)
		s.mu.Unlock()
		s.logger.Printf("[Notifier] subscriber removed: project=%s remaining=%d", projectID, remaining)
	}
	return sub.ch, cancel
}

// PublishModified 广播一条 responses_modified 事件。
func (s *Service) PublishModified(projectID string, resp *model.BotResponse) {
	s.publish(Event{Kind: ResponsesModified, ProjectID: projectID, Response: resp})
}

// PublishDeleted 广播一条 response_deleted 事件，载荷是删除前的快照。
func (s *Service) PublishDeleted(projectID string, resp *model.BotResponse) {
	s.publish(Event{Kind: ResponseDeleted, ProjectID: projectID, Response: resp})
}

// publish 无条件广播给所有订阅者，过滤在每个订阅者的投递点执行。
func (s *Service) publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.projectID != evt.ProjectID {
			continue
		}
		if len(sub.kinds) > 0 && !sub.kinds[evt.Kind] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// 订阅者消费太慢，丢弃而不是阻塞发布方。
			s.dropped.Add(1)
			s.logger.Printf("[Notifier] ⚠️  subscriber buffer full, dropping event: kind=%s project=%s", evt.Kind, evt.ProjectID)
		}
	}
}

// Dropped 返回累计被丢弃的事件数。
func (s *Service) Dropped() int64 {
	return s.dropped.Load()
}
