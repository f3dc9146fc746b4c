package notify

// messageQueue 有界 FIFO 出站佇列
// 滿時淘汰最舊的訊息；不做自己的鎖，由 Channel 的鎖保護
type messageQueue struct {
	items []*Envelope
	limit int
}

func newMessageQueue(limit int) *messageQueue {
	return &messageQueue{limit: limit}
}

// push 入隊，滿時淘汰最舊的一條並回傳 true
func (q *messageQueue) push(env *Envelope) (evicted bool) {
	if len(q.items) >= q.limit {
		// 淘汰隊頭
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		evicted = true
	}
	q.items = append(q.items, env)
	return evicted
}

// requeueFront 把一批訊息放回隊頭，保持原順序、排在現有訊息之前
// 超出上限時照樣淘汰最舊的，回傳淘汰數量
func (q *messageQueue) requeueFront(envs []*Envelope) int {
	if len(envs) == 0 {
		return 0
	}
	merged := make([]*Envelope, 0, len(envs)+len(q.items))
	merged = append(merged, envs...)
	merged = append(merged, q.items...)

	evicted := 0
	if len(merged) > q.limit {
		evicted = len(merged) - q.limit
		merged = merged[evicted:]
	}
	q.items = merged
	return evicted
}

// drain 取走全部排隊中的訊息（保持先進先出順序）
func (q *messageQueue) drain() []*Envelope {
	items := q.items
	q.items = nil
	return items
}

func (q *messageQueue) size() int {
	return len(q.items)
}
