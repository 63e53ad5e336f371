package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/domain"
)

// BacklogEntry is an unassigned job. CommittedItems lists the item indexes
// already placed on a timeline as sub-items; Job.Items is never reduced.
type BacklogEntry struct {
	Job            domain.Job `json:"job"`
	CommittedItems []int      `json:"committed_items,omitempty"`
}

func (e BacklogEntry) ItemCommitted(index int) bool {
	for _, i := range e.CommittedItems {
		if i == index {
			return true
		}
	}
	return false
}

// RemainingItems returns the item indexes not yet committed, ascending.
func (e BacklogEntry) RemainingItems() []int {
	remaining := make([]int, 0, e.Job.Items-len(e.CommittedItems))
	for i := 0; i < e.Job.Items; i++ {
		if !e.ItemCommitted(i) {
			remaining = append(remaining, i)
		}
	}
	return remaining
}

// State is the whole schedule: machines in registration order, one
// start-ordered timeline per machine, and the backlog in submission order.
// Mutating methods are only safe on a State obtained through Store.Update.
type State struct {
	Revision  uint64                           `json:"revision"`
	Machines  []domain.Machine                 `json:"machines"`
	Timelines map[string][]domain.ScheduledJob `json:"timelines"`
	Backlog   []BacklogEntry                   `json:"backlog"`

	// shared marks timelines still backed by the state this one was
	// copied from. They are copied before the first in-place change.
	shared map[string]bool
	// committed maps committed job and parent IDs to the machines they were
	// committed on. It may hold stale machines, never missing ones. nil
	// means not built; lookups then scan every timeline.
	committed map[uuid.UUID][]string
}

func NewState() *State {
	return &State{
		Timelines: make(map[string][]domain.ScheduledJob),
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := &State{
		Revision:  s.Revision,
		Machines:  append([]domain.Machine(nil), s.Machines...),
		Timelines: make(map[string][]domain.ScheduledJob, len(s.Timelines)),
		Backlog:   make([]BacklogEntry, len(s.Backlog)),
	}
	for id, tl := range s.Timelines {
		c.Timelines[id] = append([]domain.ScheduledJob(nil), tl...)
	}
	c.copyBacklog(s.Backlog)
	return c
}

// writableCopy returns a copy for Store.Update. Timelines are shared with s
// until written; machines and backlog are copied.
func (s *State) writableCopy() *State {
	c := &State{
		Revision:  s.Revision,
		Machines:  append([]domain.Machine(nil), s.Machines...),
		Timelines: make(map[string][]domain.ScheduledJob, len(s.Timelines)),
		Backlog:   make([]BacklogEntry, len(s.Backlog)),
		shared:    make(map[string]bool, len(s.Timelines)),
		committed: s.committed,
	}
	for id, tl := range s.Timelines {
		c.Timelines[id] = tl
		c.shared[id] = true
	}
	c.copyBacklog(s.Backlog)
	return c
}

func (s *State) copyBacklog(from []BacklogEntry) {
	for i, e := range from {
		s.Backlog[i] = BacklogEntry{
			Job:            e.Job,
			CommittedItems: append([]int(nil), e.CommittedItems...),
		}
	}
}

func (s *State) indexCommitted() {
	s.committed = make(map[uuid.UUID][]string)
	for id, tl := range s.Timelines {
		for _, j := range tl {
			s.noteCommitted(j.ID, id)
			if j.ParentID != uuid.Nil {
				s.noteCommitted(j.ParentID, id)
			}
		}
	}
}

func (s *State) noteCommitted(jobID uuid.UUID, machineID string) {
	for _, m := range s.committed[jobID] {
		if m == machineID {
			return
		}
	}
	s.committed[jobID] = append(s.committed[jobID], machineID)
}

// MutableScheduled returns the i-th committed job of a machine for in-place
// change, copying the timeline first if it is shared.
func (s *State) MutableScheduled(machineID string, i int) *domain.ScheduledJob {
	if s.shared[machineID] {
		s.Timelines[machineID] = append([]domain.ScheduledJob(nil), s.Timelines[machineID]...)
		delete(s.shared, machineID)
	}
	return &s.Timelines[machineID][i]
}

// Record stamps the next revision on ev.
func (s *State) Record(ev *domain.ScheduleEvent) {
	s.Revision++
	ev.Revision = s.Revision
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
}

func (s *State) Machine(id string) (domain.Machine, bool) {
	if i := s.machineIndex(id); i >= 0 {
		return s.Machines[i], true
	}
	return domain.Machine{}, false
}

func (s *State) machineIndex(id string) int {
	for i, m := range s.Machines {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// Timeline returns the committed jobs of a machine ordered by start.
// The slice is shared with the state and must not be modified.
func (s *State) Timeline(machineID string) []domain.ScheduledJob {
	return s.Timelines[machineID]
}

func (s *State) AddMachine(m domain.Machine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if s.machineIndex(m.ID) >= 0 {
		return fmt.Errorf("%w: %s", domain.ErrMachineExists, m.ID)
	}
	if m.BaseStatus == "" {
		m.BaseStatus = domain.MachineStatusIdle
	}
	s.Machines = append(s.Machines, m)
	if _, ok := s.Timelines[m.ID]; !ok {
		s.Timelines[m.ID] = nil
	}
	return nil
}

func (s *State) SetBaseStatus(machineID string, status domain.MachineStatus) error {
	parsed, err := domain.ParseBaseStatus(string(status))
	if err != nil {
		return err
	}
	i := s.machineIndex(machineID)
	if i < 0 {
		return fmt.Errorf("%w: %s", domain.ErrMachineNotFound, machineID)
	}
	s.Machines[i].BaseStatus = parsed
	return nil
}

func (s *State) backlogIndex(jobID uuid.UUID) int {
	for i, e := range s.Backlog {
		if e.Job.ID == jobID {
			return i
		}
	}
	return -1
}

func (s *State) BacklogEntry(jobID uuid.UUID) (BacklogEntry, bool) {
	if i := s.backlogIndex(jobID); i >= 0 {
		return s.Backlog[i], true
	}
	return BacklogEntry{}, false
}

// SubmitJob appends a validated job to the backlog.
func (s *State) SubmitJob(job domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if s.backlogIndex(job.ID) >= 0 || s.isCommitted(job.ID) {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}
	s.Backlog = append(s.Backlog, BacklogEntry{Job: job})
	return nil
}

func (s *State) isCommitted(jobID uuid.UUID) bool {
	if s.committed == nil {
		for _, tl := range s.Timelines {
			if timelineHolds(tl, jobID) {
				return true
			}
		}
		return false
	}
	for _, m := range s.committed[jobID] {
		if timelineHolds(s.Timelines[m], jobID) {
			return true
		}
	}
	return false
}

func timelineHolds(tl []domain.ScheduledJob, jobID uuid.UUID) bool {
	for _, j := range tl {
		if j.ID == jobID || j.ParentID == jobID {
			return true
		}
	}
	return false
}

// DeleteJob removes a job from the backlog. Committed jobs have no deletion path.
func (s *State) DeleteJob(jobID uuid.UUID) (domain.Job, error) {
	i := s.backlogIndex(jobID)
	if i < 0 {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	job := s.Backlog[i].Job
	s.Backlog = append(s.Backlog[:i], s.Backlog[i+1:]...)
	return job, nil
}

// Resolve returns the schedulable view of a backlog job, or of one of its
// items when itemIndex is non-nil.
func (s *State) Resolve(jobID uuid.UUID, itemIndex *int) (domain.Schedulable, error) {
	entry, ok := s.BacklogEntry(jobID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if itemIndex == nil {
		if len(entry.CommittedItems) > 0 {
			return nil, fmt.Errorf("%w: job %s", domain.ErrJobPartiallyCommitted, jobID)
		}
		return domain.OriginalJob{Job: entry.Job}, nil
	}
	idx := *itemIndex
	if idx < 0 || idx >= entry.Job.Items {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", domain.ErrItemOutOfRange, idx, entry.Job.Items)
	}
	if entry.ItemCommitted(idx) {
		return nil, fmt.Errorf("%w: job %s item %d", domain.ErrItemAlreadyCommitted, jobID, idx)
	}
	return domain.SubItemJob{Parent: entry.Job, Index: idx}, nil
}

// Commit places a scheduled job on its machine timeline, keeping the timeline
// ordered by start, and removes its share from the backlog. It fails without
// modifying the state if the interval overlaps any committed job.
func (s *State) Commit(job domain.ScheduledJob) error {
	if s.machineIndex(job.MachineID) < 0 {
		return fmt.Errorf("%w: %s", domain.ErrMachineNotFound, job.MachineID)
	}
	if !job.End.After(job.Start) {
		return fmt.Errorf("%w: empty interval for job %s", domain.ErrInvalidDuration, job.ID)
	}

	tl := s.Timelines[job.MachineID]
	for _, existing := range tl {
		if existing.Interval().Overlaps(job.Interval()) {
			return fmt.Errorf("%w: %s [%s, %s) on %s", domain.ErrSlotConflict, existing.ID,
				existing.Start.Format(time.RFC3339), existing.End.Format(time.RFC3339), job.MachineID)
		}
	}

	backlogID := job.ID
	if job.Kind == domain.JobKindSubItem {
		backlogID = job.ParentID
	}
	bi := s.backlogIndex(backlogID)
	if bi < 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, backlogID)
	}

	pos := sort.Search(len(tl), func(i int) bool { return tl[i].Start.After(job.Start) })
	next := make([]domain.ScheduledJob, 0, len(tl)+1)
	next = append(next, tl[:pos]...)
	next = append(next, job)
	next = append(next, tl[pos:]...)
	s.Timelines[job.MachineID] = next
	delete(s.shared, job.MachineID)
	if s.committed != nil {
		s.noteCommitted(job.ID, job.MachineID)
		if job.Kind == domain.JobKindSubItem {
			s.noteCommitted(job.ParentID, job.MachineID)
		}
	}

	if job.Kind == domain.JobKindSubItem {
		entry := &s.Backlog[bi]
		entry.CommittedItems = append(entry.CommittedItems, job.ItemIndex)
		sort.Ints(entry.CommittedItems)
		if len(entry.CommittedItems) < entry.Job.Items {
			return nil
		}
	}
	s.Backlog = append(s.Backlog[:bi], s.Backlog[bi+1:]...)
	return nil
}

// ScheduledIndex locates a committed job on a machine timeline.
func (s *State) ScheduledIndex(jobID uuid.UUID, machineID string) (int, error) {
	if s.machineIndex(machineID) < 0 {
		return -1, fmt.Errorf("%w: %s", domain.ErrMachineNotFound, machineID)
	}
	for i, j := range s.Timelines[machineID] {
		if j.ID == jobID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: job %s machine %s", domain.ErrScheduledJobNotFound, jobID, machineID)
}

// LastEnd returns the end of the last committed job on a machine, or the zero
// time if the timeline is empty.
func (s *State) LastEnd(machineID string) time.Time {
	tl := s.Timelines[machineID]
	if len(tl) == 0 {
		return time.Time{}
	}
	return tl[len(tl)-1].End
}

// CheckInvariants verifies timeline ordering and the no-overlap property.
func (s *State) CheckInvariants() error {
	for id, tl := range s.Timelines {
		if s.machineIndex(id) < 0 {
			return fmt.Errorf("timeline for unknown machine %s", id)
		}
		for i := 1; i < len(tl); i++ {
			if tl[i].Start.Before(tl[i-1].Start) {
				return fmt.Errorf("machine %s: timeline not ordered at %d", id, i)
			}
			if tl[i-1].Interval().Overlaps(tl[i].Interval()) {
				return fmt.Errorf("machine %s: jobs %s and %s overlap", id, tl[i-1].ID, tl[i].ID)
			}
		}
	}
	return nil
}
