package brain

import (
	"sync"
	"time"
)

// model is a Gemini model with its free-tier request budget.
type model struct {
	Name string
	RPM  int
	RPD  int
}

var defaultModels = []model{
	{Name: "gemini-2.5-flash", RPM: 10, RPD: 250},
	{Name: "gemini-2.5-flash-lite", RPM: 15, RPD: 1000},
}

// quota counts successful calls per model in the current minute and day.
type quota struct {
	mu  sync.Mutex
	now func() time.Time

	minute    time.Time
	day       string
	perMinute map[string]int
	perDay    map[string]int
}

func newQuota() *quota {
	return &quota{
		now:       time.Now,
		perMinute: make(map[string]int),
		perDay:    make(map[string]int),
	}
}

// roll resets the windows that have passed. Caller holds mu.
func (q *quota) roll() {
	now := q.now()
	if minute := now.Truncate(time.Minute); !minute.Equal(q.minute) {
		q.minute = minute
		clear(q.perMinute)
	}
	if day := now.Format(time.DateOnly); day != q.day {
		q.day = day
		clear(q.perDay)
	}
}

func (q *quota) allow(m model) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.roll()
	return q.perMinute[m.Name] < m.RPM && q.perDay[m.Name] < m.RPD
}

func (q *quota) record(m model) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.roll()
	q.perMinute[m.Name]++
	q.perDay[m.Name]++
}
