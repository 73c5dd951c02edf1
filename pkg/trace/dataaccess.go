package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// AccessType is the direction of a recorded data access.
type AccessType uint8

const (
	AccessRead AccessType = iota + 1
	AccessWrite
)

func (t AccessType) String() string {
	switch t {
	case AccessRead:
		return "READ"
	case AccessWrite:
		return "WRITE"
	}
	return fmt.Sprintf("AccessType(%d)", uint8(t))
}

// AccessRecord is one access to a tracked symbol.
type AccessRecord struct {
	Type   AccessType
	Core   int
	SP     uint32
	FuncID int
	// Seq orders records with the same Time, it is assigned by Record.
	Seq  uint64
	Time uint64
}

// DataAccessRecorder keeps the access history of tracked symbols.
type DataAccessRecorder struct {
	mu      sync.Mutex
	seq     uint64
	tracked map[int][]AccessRecord
	n       atomic.Int32
}

// NewDataAccessRecorder returns a recorder tracking no symbol.
func NewDataAccessRecorder() *DataAccessRecorder {
	return &DataAccessRecorder{tracked: make(map[int][]AccessRecord)}
}

// Track starts recording accesses to symbol id.
func (r *DataAccessRecorder) Track(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracked[id]; !ok {
		r.tracked[id] = nil
		r.n.Add(1)
	}
}

// Untrack stops recording accesses to symbol id and drops its history.
func (r *DataAccessRecorder) Untrack(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracked[id]; ok {
		delete(r.tracked, id)
		r.n.Add(-1)
	}
}

// Active returns true if at least one symbol is tracked.
func (r *DataAccessRecorder) Active() bool {
	return r.n.Load() > 0
}

// Tracked returns true if symbol id is tracked.
func (r *DataAccessRecorder) Tracked(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tracked[id]
	return ok
}

// Symbols returns the tracked symbol ids, ascending.
func (r *DataAccessRecorder) Symbols() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.tracked))
	for id := range r.tracked {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Record appends rec to the history of symbol id. Accesses to symbols
// that are not tracked are dropped. It returns false if rec was dropped.
func (r *DataAccessRecorder) Record(id int, rec AccessRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.tracked[id]
	if !ok {
		return false
	}
	r.seq++
	rec.Seq = r.seq
	r.tracked[id] = append(h, rec)
	return true
}

// Len returns the number of accesses recorded for symbol id.
func (r *DataAccessRecorder) Len(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked[id])
}

// SortedView returns the history of symbol id, most recent access first.
func (r *DataAccessRecorder) SortedView(id int) []AccessRecord {
	r.mu.Lock()
	out := append([]AccessRecord(nil), r.tracked[id]...)
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time > out[j].Time
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

// Names resolves the symbols referenced by access records.
type Names interface {
	GlobalName(id int) string
	FuncName(id int) string
	// StackName names the stack symbol containing sp.
	StackName(sp uint32) string
}

// CSVHeader is the first line of the export.
var CSVHeader = []string{"variable", "access_clock", "type", "core", "stack", "access_func", ""}

// ExportCSV writes one line per recorded access of every tracked symbol,
// symbols in ascending id order, accesses most recent first.
func (r *DataAccessRecorder) ExportCSV(w io.Writer, names Names) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, id := range r.Symbols() {
		variable := names.GlobalName(id)
		for _, rec := range r.SortedView(id) {
			err := cw.Write([]string{
				variable,
				strconv.FormatUint(rec.Time, 10),
				rec.Type.String(),
				"core" + strconv.Itoa(rec.Core),
				names.StackName(rec.SP),
				names.FuncName(rec.FuncID) + "()",
				"",
			})
			if err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// Reset drops the history of every tracked symbol.
func (r *DataAccessRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.tracked {
		r.tracked[id] = nil
	}
}
