package pending

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrDuplicateSubmitter is returned by Insert when the submitter already
// has a pending request. The caller must evict the old request first.
var ErrDuplicateSubmitter = errors.New("pending: submitter already has a pending request")

// Request is one in-flight approval request. It links the submitter to the
// moderator-facing log message and the original source message, and carries
// the image location the request was created with.
type Request struct {
	ID              string // generated, canonical key
	SubmitterID     string
	LogMessageID    string
	SourceMessageID string
	ImageRef        string
}

// Index tracks pending requests with lookups by submitter, log message and
// source message. All three secondary indexes always point at the same
// canonical entry; removal by any key removes the entry under every key.
//
// The mutex guards only the map bookkeeping. Callers must never hold it
// across network calls; claim an entry by removing it, do the slow work,
// then Finish on success or Restore on failure.
//
// Removal also records a claim on the entry's log message. While the
// claim is held, ClaimOrphan refuses that message, so no second task can
// adopt a request whose finalization is still in flight.
type Index struct {
	mu          sync.Mutex
	requests    map[string]*Request // canonical, keyed by Request.ID
	bySubmitter map[string]string
	byLogMsg    map[string]string
	bySource    map[string]string
	claimed     map[string]struct{} // log message IDs with a finalization in flight
}

// NewIndex creates an empty index. The index is volatile: it starts empty
// on every process start and is never persisted.
func NewIndex() *Index {
	return &Index{
		requests:    make(map[string]*Request),
		bySubmitter: make(map[string]string),
		byLogMsg:    make(map[string]string),
		bySource:    make(map[string]string),
		claimed:     make(map[string]struct{}),
	}
}

// Insert registers a new pending request and returns it. It fails with
// ErrDuplicateSubmitter if the submitter already has one; the log message
// and source message keys must likewise be unused.
func (idx *Index) Insert(submitterID, logMessageID, sourceMessageID, imageRef string) (*Request, error) {
	req := &Request{
		ID:              uuid.NewString(),
		SubmitterID:     submitterID,
		LogMessageID:    logMessageID,
		SourceMessageID: sourceMessageID,
		ImageRef:        imageRef,
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.putLocked(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Restore puts a previously claimed request back, keeping its original ID.
// It is used when a finalization attempt fails after the entry was removed.
// Restore loses to any request inserted for the same submitter in the
// meantime, in which case ErrDuplicateSubmitter is returned.
func (idx *Index) Restore(req *Request) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.claimed, req.LogMessageID)
	return idx.putLocked(req)
}

// Finish releases the claim taken by a removal or ClaimOrphan once the
// finalization has landed. A finished log message can be re-derived again,
// which its finalized embed state will refuse.
func (idx *Index) Finish(logMessageID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.claimed, logMessageID)
}

// ClaimOrphan takes ownership of a log message that has no index entry,
// the restart case. It refuses while the message is indexed or another
// task already holds its claim.
func (idx *Index) ClaimOrphan(logMessageID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.byLogMsg[logMessageID]; ok {
		return false
	}
	if _, ok := idx.claimed[logMessageID]; ok {
		return false
	}
	idx.claimed[logMessageID] = struct{}{}
	return true
}

func (idx *Index) putLocked(req *Request) error {
	if _, ok := idx.bySubmitter[req.SubmitterID]; ok {
		return ErrDuplicateSubmitter
	}
	if _, ok := idx.byLogMsg[req.LogMessageID]; ok {
		return ErrDuplicateSubmitter
	}
	if _, ok := idx.bySource[req.SourceMessageID]; ok {
		return ErrDuplicateSubmitter
	}
	idx.requests[req.ID] = req
	idx.bySubmitter[req.SubmitterID] = req.ID
	idx.byLogMsg[req.LogMessageID] = req.ID
	idx.bySource[req.SourceMessageID] = req.ID
	return nil
}

// RemoveBySubmitter claims the submitter's pending request, if any.
func (idx *Index) RemoveBySubmitter(submitterID string) (*Request, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(idx.bySubmitter[submitterID])
}

// RemoveByLogMessage claims the request shown by the given log message.
func (idx *Index) RemoveByLogMessage(logMessageID string) (*Request, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(idx.byLogMsg[logMessageID])
}

// RemoveBySource claims the request created from the given source message.
func (idx *Index) RemoveBySource(sourceMessageID string) (*Request, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(idx.bySource[sourceMessageID])
}

func (idx *Index) removeLocked(id string) (*Request, bool) {
	req, ok := idx.requests[id]
	if !ok {
		return nil, false
	}
	delete(idx.requests, id)
	delete(idx.bySubmitter, req.SubmitterID)
	delete(idx.byLogMsg, req.LogMessageID)
	delete(idx.bySource, req.SourceMessageID)
	idx.claimed[req.LogMessageID] = struct{}{}
	return req, true
}
