package taskdoc

// Doc 复制式任务文档句柄。底层存储可能被其他副本并发修改：所有按 id 的更新都
// 在调用时重新解析目标；目标不存在时静默返回 false，绝不崩溃。
//
// Doc is the replicated task-document handle. The backing store may be
// mutated concurrently by other replicas, so every update-by-id re-resolves
// its target at call time and reports false when the id is gone.
type Doc interface {
	// Meta document.
	Task() (TaskSnapshot, error)
	SetStatus(status TaskStatus) error

	// Conversation document: ordered session records + conversation messages.
	Sessions() ([]SessionRecord, error)
	PushSession(rec SessionRecord) error
	UpdateSession(sessionID string, fn func(*SessionRecord)) (bool, error)

	Messages() ([]ConversationMessage, error)
	PushMessage(msg ConversationMessage) error
	UpdateMessage(messageID string, fn func(*ConversationMessage)) (bool, error)

	// Review document: plans + todo items. Each captured plan owns an empty
	// editable draft container, provisioned alongside it.
	Plans() ([]Plan, error)
	PushPlan(plan Plan) error
	EnsurePlanDraft(planID string) error
	PlanDraft(planID string) (string, bool, error)
	Todos() ([]TodoItem, error)
	ReplaceTodos(items []TodoItem) error

	Close() error
}
