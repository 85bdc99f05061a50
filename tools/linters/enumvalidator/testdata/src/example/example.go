package example

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

type InsightStatus string

const (
	InsightStatusNew InsightStatus = "new"
)

type Task struct {
	Status TaskStatus
}

type Insight struct {
	Status InsightStatus
}

func bad() {
	t := &Task{}
	t.Status = "compelted" // want "enum field Status assigned string literal"

	i := &Insight{}
	i.Status = "pending_manual_review" // want "enum field Status assigned string literal"
}

func good() {
	t := &Task{}
	t.Status = TaskStatusCompleted // OK: using constant

	i := &Insight{}
	i.Status = InsightStatusNew // OK: using constant
}

func alsoGood() {
	// OK: variable, not literal
	status := TaskStatusCompleted
	t := &Task{Status: status}
	_ = t
}
