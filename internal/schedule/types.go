package schedule

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "dynatheme/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means local
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser   cron.Parser
	c        *cron.Cron
	triggers map[*Trigger]struct{}
}

// Trigger is a handle to one registered daily firing.
type Trigger struct {
	svc   *Service
	name  string
	spec  string
	sched cron.Schedule
	fn    func()

	entryID  cron.EntryID // guarded by svc.mu
	stopOnce sync.Once
	runMu    sync.RWMutex // held for reading while fn runs
	stopped  atomic.Bool
}

type TriggerInfo struct {
	Name string
	Spec string
	Next time.Time
}
