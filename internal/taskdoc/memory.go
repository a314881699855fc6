package taskdoc

import "sync"

// MemDoc 内存副本实现；互斥锁守护，允许多个写者并发插入
// MemDoc is the in-memory replica. A single mutex guards all three logical
// documents; concurrent writers (tests, embedding processes) may push at any
// time, which is why readers receive copies and id lookups rescan.
type MemDoc struct {
	mu       sync.Mutex
	task     TaskSnapshot
	sessions []SessionRecord
	messages []ConversationMessage
	plans    []Plan
	drafts   map[string]string
	todos    []TodoItem
}

// NewMemDoc creates an empty in-memory task document.
func NewMemDoc() *MemDoc {
	now := NowUTC()
	return &MemDoc{task: TaskSnapshot{Status: TaskSubmitted, CreatedAt: now, UpdatedAt: now}}
}

func (d *MemDoc) Task() (TaskSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.task, nil
}

func (d *MemDoc) SetStatus(status TaskStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.task.Status = status
	d.task.UpdatedAt = NowUTC()
	return nil
}

func (d *MemDoc) Sessions() ([]SessionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SessionRecord(nil), d.sessions...), nil
}

func (d *MemDoc) PushSession(rec SessionRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = append(d.sessions, rec)
	return nil
}

// InsertSessionAt 在任意位置插入记录，模拟其他副本的结构性并发写入（测试用）
// InsertSessionAt inserts at an arbitrary position, simulating a structural
// insert from another replica.
func (d *MemDoc) InsertSessionAt(index int, rec SessionRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 {
		index = 0
	}
	if index > len(d.sessions) {
		index = len(d.sessions)
	}
	d.sessions = append(d.sessions[:index], append([]SessionRecord{rec}, d.sessions[index:]...)...)
}

func (d *MemDoc) UpdateSession(sessionID string, fn func(*SessionRecord)) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.sessions {
		if d.sessions[i].SessionID == sessionID {
			fn(&d.sessions[i])
			return true, nil
		}
	}
	return false, nil
}

func (d *MemDoc) Messages() ([]ConversationMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ConversationMessage(nil), d.messages...), nil
}

func (d *MemDoc) PushMessage(msg ConversationMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	return nil
}

func (d *MemDoc) UpdateMessage(messageID string, fn func(*ConversationMessage)) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.messages {
		if d.messages[i].MessageID == messageID {
			fn(&d.messages[i])
			return true, nil
		}
	}
	return false, nil
}

func (d *MemDoc) Plans() ([]Plan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Plan(nil), d.plans...), nil
}

func (d *MemDoc) PushPlan(plan Plan) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plans = append(d.plans, plan)
	return nil
}

func (d *MemDoc) EnsurePlanDraft(planID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.drafts == nil {
		d.drafts = make(map[string]string)
	}
	if _, ok := d.drafts[planID]; !ok {
		d.drafts[planID] = ""
	}
	return nil
}

func (d *MemDoc) PlanDraft(planID string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.drafts[planID]
	return draft, ok, nil
}

func (d *MemDoc) Todos() ([]TodoItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]TodoItem(nil), d.todos...), nil
}

func (d *MemDoc) ReplaceTodos(items []TodoItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.todos = append([]TodoItem(nil), items...)
	return nil
}

func (d *MemDoc) Close() error { return nil }
