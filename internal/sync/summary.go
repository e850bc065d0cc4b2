package sync

import (
	"sort"
	"sync"
)

// Failure is a file or artifact whose action failed; the session went on.
type Failure struct {
	ID  string
	Err error
}

// Summary reports what a session did, by file identifier.
type Summary struct {
	Session         string
	LocallyUpdated  []string
	RemotelyUpdated []string
	LocallyDeleted  []string
	RemotelyDeleted []string
	Conflicted      []string
	Resolved        []string
	MetadataUpdated []string
	// Skipped actions were not started because the session was cancelled.
	Skipped []string
	Failed  []Failure

	mu sync.Mutex
}

func (s *Summary) add(list *[]string, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*list = append(*list, id)
}

func (s *Summary) fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed = append(s.Failed, Failure{ID: id, Err: err})
}

func (s *Summary) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range []*[]string{
		&s.LocallyUpdated, &s.RemotelyUpdated, &s.LocallyDeleted, &s.RemotelyDeleted,
		&s.Conflicted, &s.Resolved, &s.MetadataUpdated, &s.Skipped,
	} {
		sort.Strings(*list)
	}
	sort.SliceStable(s.Failed, func(i, j int) bool { return s.Failed[i].ID < s.Failed[j].ID })
}

// Changed counts the files written or deleted on either side.
func (s *Summary) Changed() int {
	return len(s.LocallyUpdated) + len(s.RemotelyUpdated) + len(s.LocallyDeleted) + len(s.RemotelyDeleted) + len(s.Resolved)
}

func (s *Summary) HasFailures() bool {
	return len(s.Failed) > 0
}

// Empty is true when the session found nothing to do.
func (s *Summary) Empty() bool {
	return s.Changed() == 0 && len(s.Conflicted) == 0 && len(s.MetadataUpdated) == 0 &&
		len(s.Failed) == 0 && len(s.Skipped) == 0
}
