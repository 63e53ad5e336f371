package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobKindOriginal JobKind = "original"
	JobKindSubItem  JobKind = "sub_item"
)

// Schedulable is anything the slot finder and the executor can place on a timeline.
type Schedulable interface {
	ID() uuid.UUID
	Kind() JobKind
	Source() Job
	Label() string
	Technology() string
	Duration() time.Duration
	Deadline() time.Time
	Items() int
}

// OriginalJob places a backlog job as a whole.
type OriginalJob struct {
	Job Job
}

func (o OriginalJob) ID() uuid.UUID           { return o.Job.ID }
func (o OriginalJob) Kind() JobKind           { return JobKindOriginal }
func (o OriginalJob) Source() Job             { return o.Job }
func (o OriginalJob) Label() string           { return o.Job.Name }
func (o OriginalJob) Technology() string      { return o.Job.Technology }
func (o OriginalJob) Duration() time.Duration { return o.Job.EstimatedTime }
func (o OriginalJob) Deadline() time.Time     { return o.Job.Deadline }
func (o OriginalJob) Items() int              { return o.Job.Items }

// SubItemJob is a single item split out of a multi-item job.
type SubItemJob struct {
	Parent Job
	Index  int
}

func (s SubItemJob) ID() uuid.UUID           { return SubItemID(s.Parent.ID, s.Index) }
func (s SubItemJob) Kind() JobKind           { return JobKindSubItem }
func (s SubItemJob) Source() Job             { return s.Parent }
func (s SubItemJob) Technology() string      { return s.Parent.Technology }
func (s SubItemJob) Duration() time.Duration { return s.Parent.ItemDuration() }
func (s SubItemJob) Deadline() time.Time     { return s.Parent.Deadline }
func (s SubItemJob) Items() int              { return 1 }

func (s SubItemJob) Label() string {
	return fmt.Sprintf("%s (item %d/%d)", s.Parent.Name, s.Index+1, s.Parent.Items)
}

// SubItemID derives a stable identifier for item index of the parent job.
func SubItemID(parentID uuid.UUID, index int) uuid.UUID {
	return uuid.NewSHA1(parentID, []byte(fmt.Sprintf("item-%d", index)))
}
