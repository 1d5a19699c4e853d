package progress

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robot-dreams/extio/xerrors"
)

// predictorFileName is the newline-delimited JSON file extio persists
// observed phase durations to, one record per line, in the directory passed
// to OpenTimePredictor. The format carries no version guarantee.
const predictorFileName = "extio-time-predictor.jsonl"

type predictorRecord struct {
	ID        string `json:"id"`
	ElapsedNS int64  `json:"elapsed_ns"`
}

// TimePredictor estimates how long a phase will take based on how long a
// phase with the same unique id took the last time it ran, persisting
// observations across runs. It is safe for concurrent use.
type TimePredictor struct {
	mu      sync.Mutex
	path    string
	last    map[string]time.Duration
	running map[string]time.Time
}

// OpenTimePredictor loads any previously observed durations from dir's
// predictor file (missing file is not an error -- every id is simply
// unknown) and returns a TimePredictor that will append new observations
// there.
func OpenTimePredictor(dir string) (*TimePredictor, error) {
	p := &TimePredictor{
		path:    filepath.Join(dir, predictorFileName),
		last:    make(map[string]time.Duration),
		running: make(map[string]time.Time),
	}
	f, err := os.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, xerrors.Wrap(xerrors.ErrIO, "progress: opening time predictor file: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec predictorRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // one corrupt line doesn't invalidate the rest
		}
		p.last[rec.ID] = time.Duration(rec.ElapsedNS)
	}
	return p, nil
}

// Estimate returns the duration a phase with this id took last time, and
// whether a prior observation exists at all.
func (p *TimePredictor) Estimate(id string) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.last[id]
	return d, ok
}

// Start records the current time as the start of a phase run under id,
// for a matching Stop to measure elapsed time against.
func (p *TimePredictor) Start(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[id] = time.Now()
}

// Stop records the elapsed time since the matching Start and appends it to
// the predictor file. A Stop without a matching Start is a no-op.
func (p *TimePredictor) Stop(id string) error {
	p.mu.Lock()
	start, ok := p.running[id]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.running, id)
	elapsed := time.Since(start)
	p.last[id] = elapsed
	p.mu.Unlock()
	return p.append(id, elapsed)
}

func (p *TimePredictor) append(id string, elapsed time.Duration) error {
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrIO, "progress: appending to time predictor file: %v", err)
	}
	defer f.Close()
	line, err := json.Marshal(predictorRecord{ID: id, ElapsedNS: int64(elapsed)})
	if err != nil {
		return xerrors.Wrap(xerrors.ErrIO, "progress: marshaling time predictor record: %v", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return xerrors.Wrap(xerrors.ErrIO, "progress: writing time predictor record: %v", err)
	}
	return nil
}

// EstimateRemaining returns the estimated time left in a phase that is
// fraction (in [0,1]) of the way through, given its last observed total
// duration. It returns false if there is no prior observation.
func (p *TimePredictor) EstimateRemaining(id string, fraction float64) (time.Duration, bool) {
	total, ok := p.Estimate(id)
	if !ok || fraction <= 0 {
		return 0, false
	}
	if fraction >= 1 {
		return 0, true
	}
	return time.Duration(float64(total) * (1 - fraction)), true
}
