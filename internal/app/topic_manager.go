package app

import (
	"sync"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

type TopicManagerImpl struct {
	mu     sync.RWMutex
	topics map[domain.CallID]core.TopicService
}

func NewTopicManager() core.TopicManager {
	return &TopicManagerImpl{topics: make(map[domain.CallID]core.TopicService)}
}

func (f *TopicManagerImpl) GetOrCreate(id domain.CallID) core.TopicService {
	f.mu.RLock()
	topic, ok := f.topics[id]
	f.mu.RUnlock()
	if ok {
		return topic
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic, ok = f.topics[id]; ok {
		return topic
	}
	topic = core.NewTopicService(id)
	f.topics[id] = topic
	return topic
}

func (f *TopicManagerImpl) Get(id domain.CallID) (core.TopicService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	topic, ok := f.topics[id]
	return topic, ok
}

func (f *TopicManagerImpl) List() []core.TopicInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.TopicInfo, 0, len(f.topics))
	for id, t := range f.topics {
		out = append(out, core.TopicInfo{CallID: id, MemberCount: t.MemberCount()})
	}
	return out
}

func (f *TopicManagerImpl) StopTopic(id domain.CallID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.topics, id)
}
